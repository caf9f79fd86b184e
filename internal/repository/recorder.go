package repository

import (
	"context"
	"errors"
	"fmt"

	"RunGuard/internal/domain/models"
	domrepo "RunGuard/internal/domain/repository"
	applogger "RunGuard/pkg/logger"
)

// NopRecorder discards outputs; used when backend.type is none.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *models.BlockOutput) error { return nil }
func (NopRecorder) Name() string                                     { return "none" }
func (NopRecorder) Close() error                                     { return nil }

// MultiRecorder writes every output to all recorders. A failing recorder does
// not stop the others; the errors are joined.
type MultiRecorder struct {
	recorders []domrepo.Recorder
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

func NewMultiRecorder(metrics domrepo.Metrics, l *applogger.Logger, recorders ...domrepo.Recorder) *MultiRecorder {
	if l == nil {
		l = applogger.Nop()
	}
	return &MultiRecorder{recorders: recorders, metrics: metrics, l: l}
}

func (m *MultiRecorder) Record(ctx context.Context, out *models.BlockOutput) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(ctx, out); err != nil {
			m.l.Error("record output failed",
				applogger.String("backend", r.Name()),
				applogger.String("session_id", out.SessionID),
				applogger.Int("block", out.Block.Index),
				applogger.Error(err),
			)
			if m.metrics != nil {
				m.metrics.RecordError("record_" + r.Name())
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordOutputSent(r.Name())
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) Name() string { return "multi" }

func (m *MultiRecorder) Close() error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}
