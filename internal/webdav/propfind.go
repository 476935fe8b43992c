package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

type multistatus struct {
	XMLName   xml.Name       `xml:"D:multistatus"`
	XMLNS     string         `xml:"xmlns:D,attr"`
	Responses []propResponse `xml:"D:response"`
}

type propResponse struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName   string       `xml:"D:displayname"`
	ResourceType  resourceType `xml:"D:resourcetype"`
	ContentLength *int64       `xml:"D:getcontentlength,omitempty"`
	ContentType   string       `xml:"D:getcontenttype,omitempty"`
	LastModified  string       `xml:"D:getlastmodified,omitempty"`
	CreationDate  string       `xml:"D:creationdate,omitempty"`
	ETag          string       `xml:"D:getetag,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

type propfindHandler struct {
	deps *Deps
}

// Handle lists an item and, for folders at depth 1, its direct children.
// Depth "infinity" is served as depth 1. The request body is ignored; every
// supported property is returned.
func (h *propfindHandler) Handle(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	depth, err := parseDepth(req.Header.Get("Depth"))
	if err != nil {
		return err
	}

	res, err := h.deps.Resolver.ResolvePath(req.URL.EscapedPath())
	if err != nil {
		return err
	}

	item, err := h.deps.Resolver.Locate(ctx, res)
	if err != nil {
		return err
	}

	if _, err := h.deps.Sessions.Session(ctx); err != nil {
		return err
	}

	ms := multistatus{XMLNS: davNamespace, Responses: []propResponse{entry(item)}}

	if depth > 0 && item.IsFolder() {
		children, err := h.deps.Resolver.Children(ctx, item)
		if err != nil {
			return err
		}

		for i := range children {
			ms.Responses = append(ms.Responses, entry(&children[i]))
		}
	}

	// Drain so keep-alive connections stay usable.
	_, _ = io.Copy(io.Discard, req.Body)

	return c.XML(http.StatusMultiStatus, ms)
}

func parseDepth(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0":
		return 0, nil
	case "", "1", "infinity":
		return 1, nil
	default:
		return 0, fault.Malformed("propfind", "invalid Depth header "+strconv.Quote(v))
	}
}

func entry(item *cache.Item) propResponse {
	p := prop{
		DisplayName:  item.Name,
		LastModified: item.UpdatedAt.UTC().Format(http.TimeFormat),
		CreationDate: item.CreatedAt.UTC().Format(time.RFC3339),
		ETag:         etag(item),
	}

	if item.IsFolder() {
		p.ResourceType.Collection = &struct{}{}
	} else {
		size := item.Size
		p.ContentLength = &size
		p.ContentType = contentType(item.Name)
	}

	return propResponse{
		Href: href(item),
		Propstat: propstat{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

// href escapes each path segment; folders end in a separator.
func href(item *cache.Item) string {
	if item.Path == cache.RootPath {
		return cache.RootPath
	}

	segments := strings.Split(strings.TrimPrefix(item.Path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	h := "/" + strings.Join(segments, "/")
	if item.IsFolder() {
		h += "/"
	}

	return h
}
