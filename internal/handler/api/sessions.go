package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"RunGuard/internal/domain/models"
	dsvc "RunGuard/internal/domain/service"
	"RunGuard/internal/middleware"
	"RunGuard/internal/usecase"
	xhttp "RunGuard/pkg/http"
	xlogger "RunGuard/pkg/logger"
)

// BlockPipeline is the processing path for blocks posted over HTTP.
type BlockPipeline interface {
	Process(ctx context.Context, sessionID string, b models.Block, source string) (*models.BlockOutput, error)
	Forget(sessionID string)
}

// SessionsHandler exposes the session API over echo.
type SessionsHandler struct {
	logger   *xlogger.Logger
	sessions dsvc.SessionService
	pipeline BlockPipeline
	hub      *StreamHub
}

func NewSessionsHandler(logger *xlogger.Logger, sessions dsvc.SessionService, pipeline BlockPipeline, hub *StreamHub) *SessionsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &SessionsHandler{logger: logger, sessions: sessions, pipeline: pipeline, hub: hub}
}

func (h *SessionsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sessions")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("/:id", h.End)
	g.POST("/:id/blocks", h.PostBlock)
	g.GET("/:id/snapshot", h.Snapshot)
	g.GET("/:id/patterns", h.Patterns)
	g.GET("/:id/hostility", h.Hostility)
	g.GET("/:id/can-trade", h.CanTrade)
	g.GET("/:id/stream", h.Stream)
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type listSessionsResponse struct {
	Sessions []string `json:"sessions"`
}

type canTradeResponse struct {
	Pattern    models.PatternID      `json:"pattern"`
	Confidence float64               `json:"confidence"`
	Allowed    bool                  `json:"allowed"`
	Level      models.HostilityLevel `json:"level"`
}

func (h *SessionsHandler) Create(c echo.Context) error {
	req := &models.CreateSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id, err := h.sessions.Create(c.Request().Context(), req.SessionID)
	if err != nil {
		return h.fail(c, "create session", err)
	}
	return xhttp.CreatedResponse(c, createSessionResponse{SessionID: id})
}

func (h *SessionsHandler) List(c echo.Context) error {
	return xhttp.SuccessResponse(c, listSessionsResponse{Sessions: h.sessions.IDs()})
}

func (h *SessionsHandler) End(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.End(c.Request().Context(), id); err != nil {
		return h.fail(c, "end session", err)
	}
	h.pipeline.Forget(id)
	if h.hub != nil {
		h.hub.CloseSession(id)
	}
	return xhttp.NoContentResponse(c)
}

func (h *SessionsHandler) PostBlock(c echo.Context) error {
	req := &models.BlockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	b, err := req.Block()
	if err != nil {
		return h.fail(c, "post block", err)
	}
	out, err := h.pipeline.Process(c.Request().Context(), c.Param("id"), b, "http")
	if err != nil {
		return h.fail(c, "post block", err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *SessionsHandler) Snapshot(c echo.Context) error {
	snap, err := h.sessions.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *SessionsHandler) Patterns(c echo.Context) error {
	res, err := h.sessions.Patterns(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "patterns", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SessionsHandler) Hostility(c echo.Context) error {
	res, err := h.sessions.Hostility(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "hostility", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SessionsHandler) CanTrade(c echo.Context) error {
	req := &models.CanTradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := models.ParsePatternID(req.Pattern)
	if err != nil {
		return h.fail(c, "can trade", err)
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	allowed, err := h.sessions.CanTrade(ctx, id, p, req.Confidence)
	if err != nil {
		return h.fail(c, "can trade", err)
	}
	hs, err := h.sessions.Hostility(ctx, id)
	if err != nil {
		return h.fail(c, "can trade", err)
	}
	return xhttp.SuccessResponse(c, canTradeResponse{Pattern: p, Confidence: req.Confidence, Allowed: allowed, Level: hs.Level})
}

func (h *SessionsHandler) Stream(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.sessions.Hostility(c.Request().Context(), id); err != nil {
		return h.fail(c, "stream", err)
	}
	if h.hub == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("streaming disabled"))
	}
	return h.hub.Serve(c, id)
}

// fail maps domain errors onto API error codes. Only unexpected errors are
// logged at error level.
func (h *SessionsHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= 500 {
		h.logger.Error(op+" failed", xlogger.String("session_id", c.Param("id")), xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.String("session_id", c.Param("id")), xlogger.String("code", appErr.Code))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

var sessionErrors = []xhttp.ErrorRule{
	{Target: models.ErrSessionNotFound, Code: xhttp.CodeNotFound, Status: http.StatusNotFound, Message: "session not found"},
	{Target: models.ErrSessionExists, Code: xhttp.CodeConflict, Status: http.StatusConflict, Message: "session already exists"},
	{Target: models.ErrOutOfOrder, Code: xhttp.CodeOutOfOrder, Status: http.StatusConflict},
	{Target: models.ErrSessionHalted, Code: xhttp.CodeSessionHalted, Status: http.StatusConflict},
	{Target: models.ErrInvariant, Code: xhttp.CodeSessionHalted, Status: http.StatusConflict},
	{Target: models.ErrInvalidBlock, Code: xhttp.CodeInvalidBlock, Status: http.StatusBadRequest},
	{Target: models.ErrUnknownPattern, Code: xhttp.CodeBadRequest, Status: http.StatusBadRequest, Field: "pattern"},
	{Target: middleware.ErrThrottled, Code: xhttp.CodeTooManyRequests, Status: http.StatusTooManyRequests, Message: "too many blocks for this session"},
	{Target: usecase.ErrTooManySessions, Code: xhttp.CodeUnavailable, Status: http.StatusServiceUnavailable, Message: "session limit reached"},
}

func toAppError(err error) *xhttp.AppError {
	return xhttp.MapError(err, sessionErrors)
}
