package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/randr97/mage-ai/internal/status"
)

// History records run and block outcomes in sqlite so that batch callers
// can retrieve final pipeline status and failure details after the run,
// without holding a live event subscription.
type History struct {
	db *sql.DB
}

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	RunID        string
	PipelineID   string
	Trigger      string
	Status       status.Status
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	ErrorKind    string
	ErrorMessage string
}

// BlockRecord is one persisted block attempt within a run.
type BlockRecord struct {
	RunID        string
	BlockID      string
	Status       status.Status
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Duration     time.Duration
	ErrorKind    string
	ErrorMessage string
	ErrorTrace   string
}

// Open opens (and if needed initializes) the history database.
func Open(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return h, nil
}

// Close releases the underlying database handle.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			trigger_kind TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS block_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			block_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			error_trace TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_block_runs_run ON block_runs(run_id)`,
	}

	for _, query := range queries {
		if _, err := h.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// StartRun records a new pipeline run in running state.
func (h *History) StartRun(runID, pipelineID, trigger string) error {
	_, err := h.db.Exec(
		`INSERT INTO runs (run_id, pipeline_id, trigger_kind, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, pipelineID, trigger, string(status.Running), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run, plus the first failure's
// kind and message when the run failed.
func (h *History) FinishRun(runID string, final status.Status, errorKind, errorMessage string) error {
	_, err := h.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, error_kind = ?, error_message = ? WHERE run_id = ?`,
		string(final), time.Now(), errorKind, errorMessage, runID,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// StartBlock records a block attempt entering the running state.
func (h *History) StartBlock(runID, blockID string) error {
	_, err := h.db.Exec(
		`INSERT INTO block_runs (run_id, block_id, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, blockID, string(status.Running), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record block start: %w", err)
	}
	return nil
}

// FinishBlock records a block attempt's terminal status and, on failure,
// the structured error surfaced to the log sink.
func (h *History) FinishBlock(runID, blockID string, final status.Status, duration time.Duration, errorKind, errorMessage, errorTrace string) error {
	_, err := h.db.Exec(
		`UPDATE block_runs SET status = ?, finished_at = ?, duration_ms = ?, error_kind = ?, error_message = ?, error_trace = ?
		 WHERE run_id = ? AND block_id = ? AND finished_at IS NULL`,
		string(final), time.Now(), duration.Milliseconds(), errorKind, errorMessage, errorTrace, runID, blockID,
	)
	if err != nil {
		return fmt.Errorf("record block finish: %w", err)
	}
	return nil
}

// Run retrieves one run record.
func (h *History) Run(runID string) (*RunRecord, error) {
	row := h.db.QueryRow(
		`SELECT run_id, pipeline_id, trigger_kind, status, started_at, finished_at, error_kind, error_message
		 FROM runs WHERE run_id = ?`, runID,
	)

	var rec RunRecord
	var st string
	if err := row.Scan(&rec.RunID, &rec.PipelineID, &rec.Trigger, &st, &rec.StartedAt, &rec.FinishedAt, &rec.ErrorKind, &rec.ErrorMessage); err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	rec.Status = status.Status(st)
	return &rec, nil
}

// RecentRuns lists the latest runs newest first. An empty pipelineID
// matches runs of every pipeline.
func (h *History) RecentRuns(pipelineID string, limit int) ([]*RunRecord, error) {
	rows, err := h.db.Query(
		`SELECT run_id, pipeline_id, trigger_kind, status, started_at, finished_at, error_kind, error_message
		 FROM runs WHERE (? = '' OR pipeline_id = ?) ORDER BY started_at DESC LIMIT ?`, pipelineID, pipelineID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var st string
		if err := rows.Scan(&rec.RunID, &rec.PipelineID, &rec.Trigger, &st, &rec.StartedAt, &rec.FinishedAt, &rec.ErrorKind, &rec.ErrorMessage); err != nil {
			return nil, err
		}
		rec.Status = status.Status(st)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// BlockRuns lists the block attempts of one run in start order.
func (h *History) BlockRuns(runID string) ([]*BlockRecord, error) {
	rows, err := h.db.Query(
		`SELECT run_id, block_id, status, started_at, finished_at, duration_ms, error_kind, error_message, error_trace
		 FROM block_runs WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query block runs: %w", err)
	}
	defer rows.Close()

	var records []*BlockRecord
	for rows.Next() {
		var rec BlockRecord
		var st string
		var durationMS int64
		if err := rows.Scan(&rec.RunID, &rec.BlockID, &st, &rec.StartedAt, &rec.FinishedAt, &durationMS, &rec.ErrorKind, &rec.ErrorMessage, &rec.ErrorTrace); err != nil {
			return nil, err
		}
		rec.Status = status.Status(st)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &rec)
	}
	return records, rows.Err()
}
