// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-coordinator/internal/handler"
)

// RegisterRoutes registers routes that sit outside the versioned API.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, deps map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health(deps))
}

// RegisterSeats registers the reservation endpoints.  limit is applied to
// the whole group; seat reads are never cached.
func RegisterSeats(e *echo.Echo, h *handler.ReservationHandler, limit ...echo.MiddlewareFunc) {
	g := e.Group("/v1/movies/:movie/seats", limit...)
	g.GET("", h.ListSeats)
	g.POST("/:seat/reservation", h.Reserve)
	g.DELETE("/:seat/reservation", h.Cancel)
	g.POST("/:seat/transfer", h.Transfer)
	g.POST("/:seat/move", h.Move)
}

// RegisterCatalog registers movie and user management.  cache wraps the
// movie and user groups; writes through a group invalidate its entries.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, cache ...echo.MiddlewareFunc) {
	movies := e.Group("/v1/movies", cache...)
	movies.POST("", h.CreateMovie)
	movies.GET("", h.ListMovies)
	movies.GET("/:movie", h.GetMovie)
	movies.PATCH("/:movie", h.UpdateMovie)

	users := e.Group("/v1/users", cache...)
	users.POST("", h.CreateUser)
	users.GET("", h.ListUsers)
	users.GET("/:id", h.GetUser)
	users.PATCH("/:id", h.RenameUser)
}
