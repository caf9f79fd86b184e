package api

import (
	"time"

	"github.com/labstack/echo/v4"

	xhttp "RunGuard/pkg/http"
)

type sessionLister interface {
	IDs() []string
}

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	sessions sessionLister
	started  time.Time
}

func NewHealthHandler(sessions sessionLister) *HealthHandler {
	return &HealthHandler{sessions: sessions, started: time.Now()}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (h *HealthHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, healthResponse{
		Status:   "ok",
		Sessions: len(h.sessions.IDs()),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	})
}
