package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"RunGuard/internal/domain/models"
	pkgpg "RunGuard/pkg/postgres"
)

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRecorder writes each output as one pgx batch.
type PostgresRecorder struct {
	db batchSender
}

func NewPostgresRecorder(pg *pkgpg.Client) *PostgresRecorder {
	return &PostgresRecorder{db: pg.Pool()}
}

func (r *PostgresRecorder) Name() string { return "postgres" }

func (r *PostgresRecorder) Close() error { return nil } // pool owned by pkg/postgres

func (r *PostgresRecorder) Record(ctx context.Context, out *models.BlockOutput) error {
	batch := buildBatch(out)
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres record block %d: %w", out.Block.Index, err)
		}
	}
	return nil
}

func buildBatch(out *models.BlockOutput) *pgx.Batch {
	b := &pgx.Batch{}
	sid := out.SessionID
	for _, e := range out.Results {
		b.Queue(`INSERT INTO runguard_evaluations
			(session_id, pattern, signal_block, eval_block, predicted, actual, is_win, magnitude, pnl, was_bet)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (session_id, eval_block, pattern) DO NOTHING`,
			sid, e.Pattern.String(), e.SignalBlockIndex, e.EvalBlockIndex,
			string(e.PredictedDirection), string(e.ActualDirection), e.IsWin, e.MagnitudeAtEval, e.PnL, e.WasBet)
	}
	for _, t := range out.Transitions {
		b.Queue(`INSERT INTO runguard_transitions (session_id, pattern, from_status, to_status, block, reason)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sid, t.Pattern.String(), string(t.From), string(t.To), t.BlockIndex, string(t.Reason))
	}

	h := out.Hostility
	directive := ""
	if out.Directive != nil {
		directive = string(out.Directive.Kind)
	}
	b.Queue(`INSERT INTO runguard_hostility (session_id, block, score, level, pause_remaining, directive)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, block) DO UPDATE
		SET score = EXCLUDED.score, level = EXCLUDED.level,
		    pause_remaining = EXCLUDED.pause_remaining, directive = EXCLUDED.directive`,
		sid, out.Block.Index, h.Score, string(h.Level), h.PauseBlocksRemaining, directive)
	return b
}
