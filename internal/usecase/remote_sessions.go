package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"RunGuard/internal/domain/models"
	"RunGuard/internal/middleware"
	pkghttp "RunGuard/pkg/http"
)

// RemoteSessions drives the session API of a running server. The replay
// command uses it to stream a block file into a remote instance.
type RemoteSessions struct {
	base   string
	client *pkghttp.Client
}

func NewRemoteSessions(baseURL string, client *pkghttp.Client) *RemoteSessions {
	if client == nil {
		client = pkghttp.NewClient()
	}
	return &RemoteSessions{base: strings.TrimRight(baseURL, "/"), client: client}
}

type envelope[T any] struct {
	Status int `json:"status"`
	Data   T   `json:"data"`
}

func (r *RemoteSessions) Create(ctx context.Context, id string) (string, error) {
	var resp envelope[struct {
		SessionID string `json:"session_id"`
	}]
	err := r.do(ctx, pkghttp.MethodPost, "/api/sessions", models.CreateSessionRequest{SessionID: id}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Data.SessionID, nil
}

func (r *RemoteSessions) Process(ctx context.Context, id string, b models.Block, _ string) (*models.BlockOutput, error) {
	idx := b.Index
	req := models.BlockRequest{Index: &idx, Direction: string(b.Direction), Magnitude: b.Magnitude}
	var resp envelope[*models.BlockOutput]
	if err := r.do(ctx, pkghttp.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/blocks", req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (r *RemoteSessions) Patterns(ctx context.Context, id string) ([]models.PatternSummary, error) {
	var resp envelope[[]models.PatternSummary]
	if err := r.do(ctx, pkghttp.MethodGet, "/api/sessions/"+url.PathEscape(id)+"/patterns", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (r *RemoteSessions) do(ctx context.Context, method, path string, body, dest interface{}) error {
	err := r.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: method,
		URL:    r.base + path,
		Body:   body,
	}, dest)
	return remoteError(err)
}

// remoteError maps API error responses back onto the domain sentinels so a
// remote replay fails the same way a local one does.
func remoteError(err error) error {
	var se *pkghttp.StatusError
	if !errors.As(err, &se) {
		return err
	}

	code := se.AppCode()
	var sentinel error
	switch {
	case code == pkghttp.CodeOutOfOrder:
		sentinel = models.ErrOutOfOrder
	case code == pkghttp.CodeSessionHalted:
		sentinel = models.ErrSessionHalted
	case code == pkghttp.CodeInvalidBlock:
		sentinel = models.ErrInvalidBlock
	case se.Code == http.StatusNotFound:
		sentinel = models.ErrSessionNotFound
	case se.Code == http.StatusConflict:
		sentinel = models.ErrSessionExists
	case se.Code == http.StatusTooManyRequests:
		sentinel = middleware.ErrThrottled
	default:
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, se)
}
