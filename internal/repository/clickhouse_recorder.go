package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"RunGuard/internal/domain/models"
	pkgch "RunGuard/pkg/clickhouse"
)

// ClickHouseRecorder appends evaluations, transitions, adjustments and the
// per-block hostility state to the columnar log.
type ClickHouseRecorder struct {
	db dbExecer
}

type dbExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewClickHouseRecorder(ch *pkgch.Client) *ClickHouseRecorder {
	return &ClickHouseRecorder{db: ch.DB()}
}

func (r *ClickHouseRecorder) Name() string { return "clickhouse" }

func (r *ClickHouseRecorder) Close() error { return nil } // pool owned by pkg/clickhouse

func (r *ClickHouseRecorder) Record(ctx context.Context, out *models.BlockOutput) error {
	sid := out.SessionID

	if len(out.Results) > 0 {
		rows := make([][]any, 0, len(out.Results))
		for _, e := range out.Results {
			rows = append(rows, []any{
				sid, e.Pattern.String(), uint64(e.SignalBlockIndex), uint64(e.EvalBlockIndex),
				string(e.PredictedDirection), string(e.ActualDirection), boolToUInt8(e.IsWin),
				e.MagnitudeAtEval, e.PnL, boolToUInt8(e.WasBet),
			})
		}
		if err := r.insert(ctx, pkgch.TableEvaluations,
			"session_id, pattern, signal_block, eval_block, predicted, actual, is_win, magnitude, pnl, was_bet", rows); err != nil {
			return err
		}
	}

	if len(out.Transitions) > 0 {
		rows := make([][]any, 0, len(out.Transitions))
		for _, t := range out.Transitions {
			rows = append(rows, []any{
				sid, t.Pattern.String(), string(t.From), string(t.To), uint64(t.BlockIndex), string(t.Reason),
			})
		}
		if err := r.insert(ctx, pkgch.TableTransitions,
			"session_id, pattern, from_status, to_status, block, reason", rows); err != nil {
			return err
		}
	}

	if len(out.Adjustments) > 0 {
		rows := make([][]any, 0, len(out.Adjustments))
		for _, a := range out.Adjustments {
			source := ""
			if a.Source.Valid() {
				source = a.Source.String()
			}
			rows = append(rows, []any{
				sid, a.Pattern.String(), uint64(a.BlockIndex), string(a.Kind), a.Amount, source, a.LossBefore, a.LossAfter,
			})
		}
		if err := r.insert(ctx, pkgch.TableAdjustments,
			"session_id, pattern, block, kind, amount, source, loss_before, loss_after", rows); err != nil {
			return err
		}
	}

	h := out.Hostility
	indicators := make([]string, 0, len(h.Indicators))
	for _, ev := range h.Indicators {
		indicators = append(indicators, string(ev.Kind))
	}
	directive := ""
	if out.Directive != nil {
		directive = string(out.Directive.Kind)
	}
	return r.insert(ctx, pkgch.TableHostility,
		"session_id, block, score, level, indicators, pause_remaining, directive",
		[][]any{{sid, uint64(out.Block.Index), h.Score, string(h.Level), indicators, uint32(h.PauseBlocksRemaining), directive}})
}

// insert writes rows with one multi-row VALUES statement.
func (r *ClickHouseRecorder) insert(ctx context.Context, table, columns string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(rows[0])), ", ") + ")"
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		values = append(values, placeholder)
		args = append(args, row...)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, columns, strings.Join(values, ","))
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
