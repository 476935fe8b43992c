package webdav

import (
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

type errorBody struct {
	XMLName xml.Name `xml:"D:error"`
	XMLNS   string   `xml:"xmlns:D,attr"`
	Message string   `xml:"D:responsedescription"`
}

// classify returns the kind carried by err, falling back to the remote
// API's status sentinels for errors that were never tagged.
func classify(err error) fault.Kind {
	if kind := fault.KindOf(err); kind != fault.KindUnknown {
		return kind
	}

	switch {
	case errors.Is(err, api.ErrNotFound):
		return fault.KindNotFound
	case errors.Is(err, api.ErrUnauthorized), errors.Is(err, api.ErrForbidden):
		return fault.KindUnauthorized
	case errors.Is(err, api.ErrConflict):
		return fault.KindConflict
	case errors.Is(err, api.ErrBadRequest):
		return fault.KindMalformed
	case errors.Is(err, api.ErrServerError), errors.Is(err, api.ErrThrottled):
		return fault.KindTransport
	case errors.Is(err, context.Canceled):
		return fault.KindAborted
	default:
		return fault.KindUnknown
	}
}

// statusFor maps a failure kind to its response status.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindUnsupported:
		return http.StatusNotImplemented
	case fault.KindMalformed:
		return http.StatusBadRequest
	case fault.KindUnauthorized:
		return http.StatusUnauthorized
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindExists:
		return http.StatusMethodNotAllowed
	case fault.KindPrecondition:
		return http.StatusPreconditionFailed
	case fault.KindIntegrity, fault.KindTransport:
		return http.StatusBadGateway
	case fault.KindAborted, fault.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler is the single place handler errors become responses. Once a
// response is committed the error can only be logged.
func (s *Server) errorHandler(err error, c echo.Context) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		// Router errors (unknown method) carry their own status.
		if !c.Response().Committed {
			s.writeError(c, he.Code, http.StatusText(he.Code))
		}

		return
	}

	kind := classify(err)
	status := statusFor(kind)

	attrs := []any{
		slog.String("method", c.Request().Method),
		slog.String("path", c.Request().URL.Path),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	}

	if c.Response().Committed {
		s.logger.Warn("request failed after response was committed", attrs...)
		return
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", append(attrs, slog.Int("status", status))...)
	} else {
		s.logger.Debug("request rejected", append(attrs, slog.Int("status", status))...)
	}

	s.writeError(c, status, err.Error())
}

func (s *Server) writeError(c echo.Context, status int, message string) {
	if c.Request().Method == http.MethodHead {
		if err := c.NoContent(status); err != nil {
			s.logger.Debug("writing error response", slog.String("error", err.Error()))
		}

		return
	}

	body := errorBody{XMLNS: davNamespace, Message: message}
	if err := c.XML(status, body); err != nil {
		s.logger.Debug("writing error response", slog.String("error", err.Error()))
	}
}
