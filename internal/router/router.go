// Package router registers the HTTP routes of the reservation API.
package router

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/branch-reservation/internal/handler"
	"github.com/iliyamo/branch-reservation/internal/middleware"
)

// Handlers bundles what the routes dispatch to.  Cache and RateLimit may be
// nil; the routes are then registered without them.
type Handlers struct {
	Reservations *handler.ReservationHandler
	Branches     *handler.BranchHandler
	Ping         func(ctx context.Context) error
	JWTSecret    string
	Cache        echo.MiddlewareFunc
	RateLimit    echo.MiddlewareFunc
}

// RegisterRoutes registers the health checks, which need no authentication.
func RegisterRoutes(e *echo.Echo, ping func(ctx context.Context) error) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ping))
}

// RegisterPublic registers the slot calendar and availability views.
// Guests may browse them, so they sit outside JWTAuth and are the routes
// worth caching.
func RegisterPublic(e *echo.Echo, b *handler.BranchHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/companies/:company_id/branches/:branch_id", optional(cache)...)
	g.GET("/slots", b.Slots)
	g.GET("/availability", b.Availability)
}

// RegisterReservations registers the authenticated endpoints.  Writes go
// through the rate limiter after authentication so buckets are per user.
func RegisterReservations(e *echo.Echo, h Handlers) {
	auth := e.Group("/v1", middleware.JWTAuth(h.JWTSecret))
	writes := optional(h.RateLimit)

	auth.POST("/reservations", h.Reservations.Create, writes...)
	auth.GET("/reservations", h.Reservations.ListMine)
	auth.GET("/reservations/:id", h.Reservations.Get)
	auth.PATCH("/reservations/:id", h.Reservations.Update, writes...)
	auth.DELETE("/reservations/:id", h.Reservations.Delete, writes...)

	branch := auth.Group("/companies/:company_id/branches/:branch_id")
	branch.GET("/reservations", h.Branches.Reservations)
	branch.GET("/summary", h.Branches.Summary)
}

// Register wires every route group.
func Register(e *echo.Echo, h Handlers) {
	RegisterRoutes(e, h.Ping)
	RegisterPublic(e, h.Branches, h.Cache)
	RegisterReservations(e, h)
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}
