package webdav

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var allowedMethods = strings.Join([]string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPut,
	http.MethodDelete, MethodPropfind, MethodMkcol, MethodMove,
}, ", ")

type optionsHandler struct{}

func (optionsHandler) Handle(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Allow", allowedMethods)
	h.Set("DAV", "1")
	h.Set("MS-Author-Via", "DAV")

	return c.NoContent(http.StatusOK)
}
