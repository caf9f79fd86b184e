package clickhouse

// Table names written by the ClickHouse recorder.
const (
	TableEvaluations = "runguard_evaluations"
	TableTransitions = "runguard_transitions"
	TableAdjustments = "runguard_adjustments"
	TableHostility   = "runguard_hostility"
)

// Schema returns the idempotent DDL for every RunGuard table.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + TableEvaluations + ` (
			session_id String,
			pattern LowCardinality(String),
			signal_block UInt64,
			eval_block UInt64,
			predicted LowCardinality(String),
			actual LowCardinality(String),
			is_win UInt8,
			magnitude Float64,
			pnl Float64,
			was_bet UInt8,
			recorded_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree
		ORDER BY (session_id, eval_block, pattern)`,
		`CREATE TABLE IF NOT EXISTS ` + TableTransitions + ` (
			session_id String,
			pattern LowCardinality(String),
			from_status LowCardinality(String),
			to_status LowCardinality(String),
			block UInt64,
			reason LowCardinality(String),
			recorded_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree
		ORDER BY (session_id, block, pattern)`,
		`CREATE TABLE IF NOT EXISTS ` + TableAdjustments + ` (
			session_id String,
			pattern LowCardinality(String),
			block UInt64,
			kind LowCardinality(String),
			amount Float64,
			source LowCardinality(String),
			loss_before Float64,
			loss_after Float64,
			recorded_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree
		ORDER BY (session_id, block, pattern)`,
		`CREATE TABLE IF NOT EXISTS ` + TableHostility + ` (
			session_id String,
			block UInt64,
			score Float64,
			level LowCardinality(String),
			indicators Array(LowCardinality(String)),
			pause_remaining UInt32,
			directive LowCardinality(String),
			recorded_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree
		ORDER BY (session_id, block)`,
	}
}
