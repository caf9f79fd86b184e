package usecase

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"RunGuard/internal/domain/models"
	applogger "RunGuard/pkg/logger"
)

// ReadBlocks parses a block file. format is "jsonl" or "csv"; an empty
// format is taken from the file extension by ReplayFile. Missing indices are
// numbered sequentially from 0.
func ReadBlocks(r io.Reader, format string) ([]models.Block, error) {
	switch strings.ToLower(format) {
	case "jsonl", "ndjson", "json":
		return readJSONL(r)
	case "csv":
		return readCSV(r)
	default:
		return nil, fmt.Errorf("unsupported block file format %q", format)
	}
}

func readJSONL(r io.Reader) ([]models.Block, error) {
	var blocks []models.Block
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var req models.BlockRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if req.Index == nil {
			idx := len(blocks)
			req.Index = &idx
		}
		b, err := req.Block()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, sc.Err()
}

// readCSV accepts "index,direction,magnitude" or "direction,magnitude" rows
// with an optional header.
func readCSV(r io.Reader) ([]models.Block, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var blocks []models.Block
	row := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row++
		if row == 1 && isHeader(rec) {
			continue
		}

		var req models.BlockRequest
		switch len(rec) {
		case 2:
			idx := len(blocks)
			req.Index = &idx
			req.Direction = rec[0]
			req.Magnitude, err = strconv.ParseFloat(rec[1], 64)
		case 3:
			var idx int
			idx, err = strconv.Atoi(rec[0])
			req.Index = &idx
			req.Direction = rec[1]
			if err == nil {
				req.Magnitude, err = strconv.ParseFloat(rec[2], 64)
			}
		default:
			err = fmt.Errorf("expected 2 or 3 fields, got %d", len(rec))
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		b, err := req.Block()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if strings.EqualFold(f, "direction") {
			return true
		}
	}
	return false
}

// ReplayStats is what a replay produced.
type ReplayStats struct {
	SessionID string
	Blocks    int
	Summary   []models.PatternSummary
}

// ReplayTarget is where a replay sends its blocks: the local registry or a
// RemoteSessions client of a running server.
type ReplayTarget interface {
	BlockProcessor
	Create(ctx context.Context, id string) (string, error)
	Patterns(ctx context.Context, id string) ([]models.PatternSummary, error)
}

// Replayer runs one session over a block file.
type Replayer struct {
	target ReplayTarget
	l      *applogger.Logger
}

func NewReplayer(target ReplayTarget, l *applogger.Logger) *Replayer {
	if l == nil {
		l = applogger.Nop()
	}
	return &Replayer{target: target, l: l}
}

// ReplayFile reads path, picking the format from its extension.
func (r *Replayer) ReplayFile(ctx context.Context, path string) (*ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	blocks, err := ReadBlocks(f, format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return r.Replay(ctx, blocks)
}

// Replay processes blocks in order in a fresh session, stops at the first
// rejected block and logs one summary line per pattern.
func (r *Replayer) Replay(ctx context.Context, blocks []models.Block) (*ReplayStats, error) {
	id, err := r.target.Create(ctx, "")
	if err != nil {
		return nil, err
	}
	stats := &ReplayStats{SessionID: id}

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, err := r.target.Process(ctx, id, b, "replay"); err != nil {
			return stats, fmt.Errorf("block %d: %w", b.Index, err)
		}
		stats.Blocks++
	}

	stats.Summary, err = r.target.Patterns(ctx, id)
	if err != nil {
		return stats, err
	}
	for _, ps := range stats.Summary {
		r.l.Info("pattern summary",
			applogger.String("session_id", id),
			applogger.String("pattern", ps.Pattern.String()),
			applogger.String("status", string(ps.Status)),
			applogger.Int("bets", ps.Bets),
			applogger.Int("wins", ps.Wins),
			applogger.Int("losses", ps.Losses),
			applogger.Float("realized_pnl", ps.RealizedPnL),
			applogger.Float("observed_pnl", ps.ObservedPnL),
			applogger.Int("transitions", ps.Transitions),
		)
	}
	return stats, nil
}
