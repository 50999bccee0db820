package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the common envelope for gateway-owned endpoints. Proxied
// endpoints relay the upstream body untouched and do not use it.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Meta    any    `json:"meta,omitempty"`
}

func respondOK(c echo.Context, data any, message string) error {
	return c.JSON(http.StatusOK, Response{Success: true, Data: data, Message: message})
}

func respondErr(c echo.Context, status int, message string) error {
	return c.JSON(status, Response{Success: false, Error: message, Message: message})
}
