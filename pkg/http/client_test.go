package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesThrottledRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetry(3, time.Millisecond))
	var out struct {
		Data struct {
			OK bool `json:"ok"`
		} `json:"data"`
	}
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{Method: MethodPost, URL: srv.URL, Body: map[string]int{"index": 1}}, &out))
	assert.True(t, out.Data.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(WithRetry(2, time.Millisecond)).SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	e := echo.New()
	e.POST("/", func(c echo.Context) error {
		calls.Add(1)
		return AppErrorResponse(c, NewAppError(CodeOutOfOrder, "", "expected index 4", http.StatusConflict))
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	err := NewClient(WithRetry(3, time.Millisecond)).SendAndParse(context.Background(), &RequestOptions{Method: MethodPost, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeOutOfOrder, se.AppCode())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryAfterIsCapped(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, 50*time.Millisecond, retryAfter(resp, 50*time.Millisecond))
	resp.Header.Set("Retry-After", "3600")
	assert.Equal(t, 500*time.Millisecond, retryAfter(resp, 50*time.Millisecond))
	resp.Header.Set("Retry-After", "0")
	assert.Equal(t, time.Duration(0), retryAfter(resp, 50*time.Millisecond))
}

func TestStatusErrorAppCodeOnForeignBody(t *testing.T) {
	assert.Empty(t, (&StatusError{Code: 502, Body: []byte("<html>bad gateway</html>")}).AppCode())
}
