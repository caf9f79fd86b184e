package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RunGuard/internal/domain/models"
	"RunGuard/pkg/cache"
	pkgch "RunGuard/pkg/clickhouse"
	pkgkafka "RunGuard/pkg/kafka"
)

func sampleOutput() *models.BlockOutput {
	return &models.BlockOutput{
		SessionID: "s-1",
		Block:     models.Block{Index: 7, Direction: models.Down, Magnitude: 40},
		Results: []models.EvaluationResult{
			{Pattern: models.ZZ, SignalBlockIndex: 6, EvalBlockIndex: 7, PredictedDirection: models.Down,
				ActualDirection: models.Down, IsWin: true, MagnitudeAtEval: 40, PnL: 40, WasBet: true},
			{Pattern: models.AntiZZ, SignalBlockIndex: 6, EvalBlockIndex: 7, PredictedDirection: models.Up,
				ActualDirection: models.Down, MagnitudeAtEval: 40, PnL: -40},
		},
		Transitions: []models.Transition{
			{Pattern: models.ZZ, From: models.StatusObserving, To: models.StatusActive, BlockIndex: 7, Reason: models.ReasonActivationThreshold},
		},
		Adjustments: []models.Adjustment{
			{Pattern: models.SameDir, BlockIndex: 7, Kind: models.AdjustmentDecayCredit, Amount: 20, Source: models.ZZ, LossBefore: 50, LossAfter: 30},
		},
		Directive: &models.HostilityDirective{Kind: models.DirectivePause, BlockIndex: 7, Level: models.LevelPause},
		Hostility: models.HostilityState{
			Score: 9, Level: models.LevelPause, PauseBlocksRemaining: 5,
			Indicators: []models.IndicatorEvent{{Kind: models.IndicatorCascade, BlockIndex: 7, Weight: 3, ScoreAfter: 9}},
		},
	}
}

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: q, args: args})
	return driver.RowsAffected(1), f.err
}

func TestClickHouseRecorderInsertsEveryTable(t *testing.T) {
	db := &fakeDB{}
	r := &ClickHouseRecorder{db: db}

	require.NoError(t, r.Record(context.Background(), sampleOutput()))
	require.Len(t, db.calls, 4)

	ev := db.calls[0]
	assert.True(t, strings.HasPrefix(ev.query, "INSERT INTO "+pkgch.TableEvaluations))
	assert.Equal(t, 2, strings.Count(ev.query, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"))
	assert.Len(t, ev.args, 20)
	assert.Equal(t, "ZZ", ev.args[1])
	assert.Equal(t, uint8(1), ev.args[6])

	assert.Contains(t, db.calls[1].query, pkgch.TableTransitions)
	assert.Contains(t, db.calls[2].query, pkgch.TableAdjustments)
	assert.Equal(t, "ZZ", db.calls[2].args[5], "adjustment source")

	host := db.calls[3]
	assert.Contains(t, host.query, pkgch.TableHostility)
	assert.Equal(t, []string{"CASCADE"}, host.args[4])
	assert.Equal(t, "PAUSE", host.args[6])
}

func TestClickHouseRecorderSkipsEmptyTables(t *testing.T) {
	db := &fakeDB{}
	r := &ClickHouseRecorder{db: db}
	out := &models.BlockOutput{SessionID: "s", Block: models.Block{Index: 0, Direction: models.Up}}

	require.NoError(t, r.Record(context.Background(), out))
	require.Len(t, db.calls, 1, "hostility row is written for every block")
	assert.Contains(t, db.calls[0].query, pkgch.TableHostility)
}

func TestClickHouseRecorderWrapsErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("boom")}
	r := &ClickHouseRecorder{db: db}
	err := r.Record(context.Background(), sampleOutput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), pkgch.TableEvaluations)
}

func TestPostgresBatch(t *testing.T) {
	b := buildBatch(sampleOutput())
	require.Equal(t, 4, b.Len(), "two evaluations, one transition, one hostility row")
	assert.Contains(t, b.QueuedQueries[0].SQL, "runguard_evaluations")
	assert.Equal(t, "s-1", b.QueuedQueries[0].Arguments[0])
	assert.Contains(t, b.QueuedQueries[2].SQL, "runguard_transitions")
	assert.Contains(t, b.QueuedQueries[3].SQL, "ON CONFLICT (session_id, block)")
}

type fakePublisher struct {
	topic   string
	key     []byte
	value   interface{}
	headers map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}, headers ...pkgkafka.Header) error {
	p.topic, p.key, p.value = topic, key, value
	p.headers = map[string]string{}
	for _, h := range headers {
		p.headers[h.Key] = string(h.Value)
	}
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestKafkaRecorderKeysBySession(t *testing.T) {
	pub := &fakePublisher{}
	r := &KafkaRecorder{producer: pub, topic: "runguard.outputs"}
	out := sampleOutput()

	require.NoError(t, r.Record(context.Background(), out))
	assert.Equal(t, "runguard.outputs", pub.topic)
	assert.Equal(t, []byte("s-1"), pub.key)
	assert.Same(t, out, pub.value)
	assert.Equal(t, "s-1", pub.headers["session_id"])
	assert.Equal(t, strconv.Itoa(out.Block.Index), pub.headers["block_index"])
}

type fakeRecorder struct {
	name  string
	err   error
	count int
}

func (f *fakeRecorder) Record(context.Context, *models.BlockOutput) error {
	f.count++
	return f.err
}
func (f *fakeRecorder) Name() string { return f.name }
func (f *fakeRecorder) Close() error { return nil }

type countingMetrics struct {
	sent   map[string]int
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{sent: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordBlock(string)                       {}
func (m *countingMetrics) RecordResult(string, bool, bool, float64) {}
func (m *countingMetrics) RecordTransition(string, string, string)  {}
func (m *countingMetrics) RecordHostility(float64, string)          {}
func (m *countingMetrics) RecordOutputSent(backend string)          { m.sent[backend]++ }
func (m *countingMetrics) RecordError(kind string)                  { m.errors[kind]++ }
func (m *countingMetrics) RecordLatency(string, float64)            {}

func TestMultiRecorderContinuesPastFailures(t *testing.T) {
	ok := &fakeRecorder{name: "kafka"}
	bad := &fakeRecorder{name: "clickhouse", err: errors.New("down")}
	m := newCountingMetrics()
	mr := NewMultiRecorder(m, nil, bad, ok)

	err := mr.Record(context.Background(), sampleOutput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse")
	assert.Equal(t, 1, ok.count)
	assert.Equal(t, 1, m.sent["kafka"])
	assert.Equal(t, 1, m.errors["record_clickhouse"])
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewSnapshotStore(mc, time.Hour)

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	start := 3
	snap := &models.SessionSnapshot{
		SessionID: "s-1",
		Blocks:    []models.Block{{Index: 0, Direction: models.Up, Magnitude: 1}},
		Lifecycles: []models.LifecycleState{
			{Pattern: models.SameDir2, Status: models.StatusPaused, PauseReason: models.ReasonHostilityPause, PauseStartIndex: &start},
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	want, _ := json.Marshal(snap)
	have, _ := json.Marshal(got)
	assert.JSONEq(t, string(want), string(have))

	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	assert.Error(t, store.Save(ctx, &models.SessionSnapshot{}))
}

func TestSnapshotStoreLoadRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewSnapshotStore(mc, 60*time.Millisecond)

	require.NoError(t, store.Save(ctx, &models.SessionSnapshot{SessionID: "s-2"}))
	time.Sleep(40 * time.Millisecond)
	_, err := store.Load(ctx, "s-2")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = store.Load(ctx, "s-2")
	assert.NoError(t, err, "load pushed the expiry out")
}
