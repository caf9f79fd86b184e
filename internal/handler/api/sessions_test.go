package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/middleware"
	"RunGuard/internal/repository"
	"RunGuard/internal/services/engine"
	"RunGuard/internal/usecase"
	"RunGuard/pkg/cache"
)

type nopMetrics struct{}

func (nopMetrics) RecordBlock(string)                       {}
func (nopMetrics) RecordResult(string, bool, bool, float64) {}
func (nopMetrics) RecordTransition(string, string, string)  {}
func (nopMetrics) RecordHostility(float64, string)          {}
func (nopMetrics) RecordOutputSent(string)                  {}
func (nopMetrics) RecordError(string)                       {}
func (nopMetrics) RecordLatency(string, float64)            {}

type apiFixture struct {
	e   *echo.Echo
	hub *StreamHub
	reg *usecase.SessionRegistry
}

func newAPI(t *testing.T, opts ...middleware.PipelineOption) *apiFixture {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	hub := NewStreamHub(16, nil)
	t.Cleanup(hub.Close)
	reg, err := usecase.NewSessionRegistry(engine.DefaultConfig(), usecase.RunnerDeps{
		Broadcaster: hub,
		Snapshots:   repository.NewSnapshotStore(mem, time.Hour),
		Metrics:     nopMetrics{},
	}, 0)
	require.NoError(t, err)

	pipeline := middleware.NewBlockPipeline(reg, nopMetrics{}, opts...)
	e := echo.New()
	NewSessionsHandler(nil, reg, pipeline, hub).RegisterRoutes(e)
	return &apiFixture{e: e, hub: hub, reg: reg}
}

type apiResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type apiError struct {
	Code  string `json:"code"`
	Field string `json:"field"`
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func errorCode(t *testing.T, resp apiResponse) string {
	t.Helper()
	var errs []apiError
	require.NoError(t, json.Unmarshal(resp.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func (f *apiFixture) create(t *testing.T, id string) {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/api/sessions", `{"session_id":"`+id+`"}`)
	require.Equal(t, http.StatusCreated, code)
}

func TestCreateSession(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodPost, "/api/sessions", `{}`)
	require.Equal(t, http.StatusCreated, code)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.NotEmpty(t, created.SessionID)

	f.create(t, "alpha")
	code, resp = f.do(t, http.MethodPost, "/api/sessions", `{"session_id":"alpha"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ERR_CONFLICT", errorCode(t, resp))
}

func TestPostBlocks(t *testing.T) {
	f := newAPI(t)
	f.create(t, "s1")

	code, resp := f.do(t, http.MethodPost, "/api/sessions/s1/blocks", `{"index":0,"direction":"UP","magnitude":12}`)
	require.Equal(t, http.StatusOK, code)
	var out models.BlockOutput
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, models.Up, out.Block.Direction)

	code, resp = f.do(t, http.MethodPost, "/api/sessions/s1/blocks", `{"index":5,"direction":"D","magnitude":12}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ERR_OUT_OF_ORDER", errorCode(t, resp))

	code, resp = f.do(t, http.MethodPost, "/api/sessions/s1/blocks", `{"index":1,"direction":"sideways","magnitude":12}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_BLOCK", errorCode(t, resp))

	code, resp = f.do(t, http.MethodPost, "/api/sessions/s1/blocks", `{"direction":"UP","magnitude":12}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_REQUIRED", errorCode(t, resp))
	var errs []apiError
	require.NoError(t, json.Unmarshal(resp.Data, &errs))
	assert.Equal(t, "index", errs[0].Field, "fields are reported by json name")

	code, resp = f.do(t, http.MethodPost, "/api/sessions/s1/blocks", `{"index":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_MALFORMED", errorCode(t, resp))

	code, resp = f.do(t, http.MethodPost, "/api/sessions/nope/blocks", `{"index":0,"direction":"UP","magnitude":12}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, resp))
}

func TestThrottledBlockIsRejected(t *testing.T) {
	f := newAPI(t, middleware.WithRateLimit(0.001, 1))
	f.create(t, "s")

	code, _ := f.do(t, http.MethodPost, "/api/sessions/s/blocks", `{"index":0,"direction":"UP","magnitude":1}`)
	require.Equal(t, http.StatusOK, code)
	code, resp := f.do(t, http.MethodPost, "/api/sessions/s/blocks", `{"index":1,"direction":"UP","magnitude":1}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "ERR_TOO_MANY_REQUESTS", errorCode(t, resp))
}

func TestQueries(t *testing.T) {
	f := newAPI(t)
	f.create(t, "q")
	for i, dir := range []string{"UP", "DOWN", "UP", "UP"} {
		body, _ := json.Marshal(map[string]any{"index": i, "direction": dir, "magnitude": 30})
		code, _ := f.do(t, http.MethodPost, "/api/sessions/q/blocks", string(body))
		require.Equal(t, http.StatusOK, code)
	}

	code, resp := f.do(t, http.MethodGet, "/api/sessions/q/patterns", "")
	require.Equal(t, http.StatusOK, code)
	var summary []models.PatternSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Len(t, summary, len(models.AllPatterns()))

	code, resp = f.do(t, http.MethodGet, "/api/sessions/q/hostility", "")
	require.Equal(t, http.StatusOK, code)
	var hs models.HostilityState
	require.NoError(t, json.Unmarshal(resp.Data, &hs))
	assert.Equal(t, models.LevelNormal, hs.Level)

	code, resp = f.do(t, http.MethodGet, "/api/sessions/q/snapshot", "")
	require.Equal(t, http.StatusOK, code)
	var snap models.SessionSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Len(t, snap.Blocks, 4)

	code, resp = f.do(t, http.MethodGet, "/api/sessions/q/can-trade?pattern=ZZ&confidence=75", "")
	require.Equal(t, http.StatusOK, code)
	var ct canTradeResponse
	require.NoError(t, json.Unmarshal(resp.Data, &ct))
	assert.Equal(t, models.ZZ, ct.Pattern)
	assert.Equal(t, 75.0, ct.Confidence)

	code, resp = f.do(t, http.MethodGet, "/api/sessions/q/can-trade?pattern=7A7", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_BAD_REQUEST", errorCode(t, resp))

	code, _ = f.do(t, http.MethodGet, "/api/sessions/q/can-trade?pattern=ZZ&confidence=150", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEndSession(t *testing.T) {
	f := newAPI(t)
	f.create(t, "e")

	code, _ := f.do(t, http.MethodDelete, "/api/sessions/e", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodGet, "/api/sessions/e/patterns", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodDelete, "/api/sessions/e", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStreamDeliversOutputs(t *testing.T) {
	f := newAPI(t)
	f.create(t, "ws")
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/ws/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers("ws") == 1 }, time.Second, 10*time.Millisecond)

	code, _ := f.do(t, http.MethodPost, "/api/sessions/ws/blocks", `{"index":0,"direction":"DOWN","magnitude":44}`)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var out models.BlockOutput
	require.NoError(t, json.Unmarshal(msg, &out))
	assert.Equal(t, "ws", out.SessionID)
	assert.Equal(t, 44.0, out.Block.Magnitude)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sessions/missing/stream", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewStreamHub(1, nil)
	sub := &subscriber{session: "s", send: make(chan []byte, 1)}
	hub.add(sub)

	out := &models.BlockOutput{SessionID: "s"}
	hub.Broadcast(out)
	hub.Broadcast(out)

	assert.Zero(t, hub.Subscribers("s"))
	_, ok := <-sub.send
	assert.True(t, ok, "buffered message still readable")
	_, ok = <-sub.send
	assert.False(t, ok, "channel closed after drop")
}

func TestToAppErrorDefaultsToInternal(t *testing.T) {
	appErr := toAppError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestListSessionsAndHealth(t *testing.T) {
	f := newAPI(t)
	f.create(t, "b")
	f.create(t, "a")

	code, resp := f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, code)
	var list listSessionsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, []string{"a", "b"}, list.Sessions)

	NewHealthHandler(f.reg).RegisterRoutes(f.e)
	code, resp = f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	var h healthResponse
	require.NoError(t, json.Unmarshal(resp.Data, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Sessions)
}
