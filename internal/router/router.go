package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/event-credentials/internal/handler"
	"github.com/iliyamo/event-credentials/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
// db may be nil when the service runs on the memory store; gatherer
// defaults to the global prometheus registry.
func RegisterRoutes(e *echo.Echo, db *sql.DB, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health(db))
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterAPI registers the staff API under /v1/events/:event.  Every
// route requires a staff bearer token and is rate limited per staff
// member; scan and read routes accept STAFF or ADMIN, while admission,
// import, QR re-issue and capacity changes are ADMIN only.
func RegisterAPI(e *echo.Echo, h *handler.Handler, jwtSecret string, rateLimit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/events/:event")
	g.Use(middleware.StaffAuth(jwtSecret))
	if rateLimit != nil {
		g.Use(rateLimit)
	}

	staff := middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	g.POST("/checkin", h.CheckIn, staff)
	g.POST("/claims/:resource", h.Claim, staff)
	g.GET("/attendees/:id", h.GetAttendee, staff)
	g.GET("/attendees/:id/history", h.History, staff)
	if cache != nil {
		g.GET("/resources", h.Resources, staff, cache)
	} else {
		g.GET("/resources", h.Resources, staff)
	}

	g.POST("/attendees", h.Admit, admin)
	g.GET("/attendees/:id/qr", h.QRCode, admin)
	g.POST("/import", h.Import, admin)
	g.PUT("/resources/:resource", h.DefineResource, admin)
	g.PATCH("/resources/id/:id/threshold", h.SetThreshold, admin)
}
