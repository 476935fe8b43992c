package resolver

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

// Resource is a normalized request path.
type Resource struct {
	Path       string   // cleaned, NFC, always absolute: "/", "/a", "/a/b"
	Segments   []string // path components; empty for the root
	Name       string   // last segment; empty for the root
	ParentPath string   // path of the containing folder; empty for the root
	WantFolder bool     // request path ended in a separator
}

// IsRoot reports whether the resource is the drive root.
func (r *Resource) IsRoot() bool {
	return r.Path == cache.RootPath
}

// ResolvePath normalizes an escaped URL path. Invalid percent-encoding and
// NUL bytes are malformed requests. "." and ".." segments and repeated
// separators are collapsed; ".." never climbs above the root.
func ResolvePath(raw string) (*Resource, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fault.Malformed("resolve", fmt.Sprintf("invalid path encoding %q", raw))
	}

	if strings.ContainsRune(decoded, 0) {
		return nil, fault.Malformed("resolve", "path contains NUL byte")
	}

	wantFolder := strings.HasSuffix(decoded, "/")

	cleaned := path.Clean("/" + decoded)
	cleaned = norm.NFC.String(cleaned)

	res := &Resource{Path: cleaned, WantFolder: wantFolder}
	if cleaned == cache.RootPath {
		res.WantFolder = true
		return res, nil
	}

	res.Segments = strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
	res.Name = res.Segments[len(res.Segments)-1]
	res.ParentPath = path.Dir(cleaned)

	return res, nil
}

// ResolveDestination normalizes a MOVE Destination header, which may be an
// absolute URL or an absolute path.
func ResolveDestination(raw string) (*Resource, error) {
	if raw == "" {
		return nil, fault.Malformed("resolve", "missing Destination header")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fault.Malformed("resolve", fmt.Sprintf("invalid Destination %q", raw))
		}

		return ResolvePath(u.EscapedPath())
	}

	return ResolvePath(raw)
}

// Parent returns the folder containing r. The root is its own parent.
func (r *Resource) Parent() *Resource {
	if r.IsRoot() {
		return r
	}

	parent := &Resource{Path: r.ParentPath, WantFolder: true}
	if len(r.Segments) > 1 {
		parent.Segments = r.Segments[:len(r.Segments)-1]
		parent.Name = parent.Segments[len(parent.Segments)-1]
		parent.ParentPath = path.Dir(r.ParentPath)
	}

	return parent
}
