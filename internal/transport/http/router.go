package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewRouter sets up all echo routes and middleware.
func NewRouter(h *Handler, p *ProxyHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	}))

	v1 := e.Group("/api/v1")

	v1.GET("/healthz", h.Health)

	// Ingestion pipeline
	v1.POST("/notifications", h.CreateNotification)
	v1.GET("/notifications/:id/status", h.GetStatus)

	// Worker status callbacks, e.g. POST /api/v1/email/status
	v1.POST("/:channel/status", h.UpdateStatus)

	// Reverse proxies to the user and template services
	v1.POST("/users", p.CreateUser)
	v1.GET("/users/:id", p.GetUser)
	v1.PATCH("/users/:id/preferences", p.UpdateUserPreferences)
	v1.POST("/templates", p.CreateTemplate)
	v1.GET("/templates", p.ListTemplates)
	v1.GET("/templates/:id", p.GetTemplate)
	v1.PUT("/templates/:id", p.UpdateTemplate)
	v1.DELETE("/templates/:id", p.DeleteTemplate)

	return e
}
