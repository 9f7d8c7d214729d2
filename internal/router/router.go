package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/parking-orchestrator/internal/handler"    // handlers implementing each endpoint
	"github.com/iliyamo/parking-orchestrator/internal/metrics"    // prometheus exposition
	"github.com/iliyamo/parking-orchestrator/internal/middleware" // JWT, role, rate limit and cache middleware
)

// RegisterRoutes registers routes that do not require authentication and are
// not rate limited: liveness, readiness and the prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	// Map GET /healthz to the Health handler for load balancers.
	e.GET("/healthz", handler.Health)
	// Readiness fails while the database is unreachable.
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// RegisterParking registers the gate terminal and catalogue routes under
// /v1.  limiter guards every route of the group; cache is applied to the
// level listing only.  Either may be nil when Redis is not configured.
func RegisterParking(e *echo.Echo, p *handler.ParkingHandler, l *handler.LevelHandler, limiter, cache echo.MiddlewareFunc) *echo.Group {
	g := e.Group("/v1")
	if limiter != nil {
		g.Use(limiter)
	}
	// Entry and exit are the two workflows driven by the gate terminals.
	g.POST("/parking/entry", p.Enter)
	g.POST("/parking/exit/:ticketId", p.Exit)

	if cache != nil {
		g.GET("/levels", l.ListLevels, cache)
	} else {
		g.GET("/levels", l.ListLevels)
	}
	// Free spots change on every entry, so this route is never cached.
	g.GET("/levels/:id/spots", l.AvailableSpots)
	return g
}

// RegisterOperator registers the administrative routes on the /v1 group
// returned by RegisterParking.  Each route requires a valid operator token.
func RegisterOperator(v1 *echo.Group, l *handler.LevelHandler, jwtSecret string) {
	guard := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleOperator),
	}
	v1.POST("/levels", l.CreateLevel, guard...)
	// Manual release settles reconciliation cases through the ledger.
	v1.POST("/spots/:id/release", l.ReleaseSpot, guard...)
	v1.GET("/dependencies", l.Dependencies, guard...)
}

// RegisterTicketing registers the ticketing service API.
func RegisterTicketing(e *echo.Echo, t *handler.TicketHandler) {
	g := e.Group("/v1/tickets")
	g.POST("", t.Open)
	g.GET("/:id", t.Get)
	g.PUT("/:id/exit", t.Close)
}
