package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RunGuard/internal/domain/models"
	domrepo "RunGuard/internal/domain/repository"
	"RunGuard/internal/service/ratelimit"
)

// ErrThrottled is returned when a session sends blocks faster than allowed.
// The block is rejected, not dropped, so the caller can resend it in order.
var ErrThrottled = errors.New("session throttled")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, sessionID string, b models.Block, source string) (*models.BlockOutput, error)
}

// BlockPipeline sits in front of the session registry for every transport.
// It validates, throttles per session and records latency and errors.
type BlockPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
}

type PipelineOption func(*BlockPipeline)

// WithRateLimit caps blocks per second per session; 0 disables the cap.
func WithRateLimit(perSecond float64, burst int) PipelineOption {
	return func(p *BlockPipeline) {
		if perSecond > 0 {
			p.limiter = ratelimit.New(perSecond, burst, 10*time.Minute)
		}
	}
}

// NewBlockPipeline creates a new pipeline.
func NewBlockPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *BlockPipeline {
	p := &BlockPipeline{proc: proc, metrics: metrics}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates and forwards one block.
func (p *BlockPipeline) Process(ctx context.Context, sessionID string, b models.Block, source string) (*models.BlockOutput, error) {
	start := time.Now()
	if sessionID == "" {
		p.metrics.RecordError("pipeline_validate")
		return nil, fmt.Errorf("%w: missing session id", models.ErrInvalidBlock)
	}
	if err := b.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return nil, err
	}
	if p.limiter != nil && !p.limiter.Allow(sessionID) {
		p.metrics.RecordError("pipeline_throttle")
		return nil, fmt.Errorf("%w: %s", ErrThrottled, sessionID)
	}

	out, err := p.proc.Process(ctx, sessionID, b, source)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordLatency("pipeline_"+source, time.Since(start).Seconds())
	return out, nil
}

// Forget releases per-session pipeline state once a session ends.
func (p *BlockPipeline) Forget(sessionID string) {
	p.limiter.Forget(sessionID)
}
