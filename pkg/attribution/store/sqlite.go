package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/randalmurphal/attribution/pkg/attribution"
	attrerr "github.com/randalmurphal/attribution/pkg/attribution/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	visitor_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	experiment_id TEXT NOT NULL,
	variation_id TEXT NOT NULL,
	ts_sec INTEGER,
	ts_nsec INTEGER,
	is_holdback INTEGER NOT NULL,
	attributes TEXT,
	account_id TEXT NOT NULL DEFAULT '',
	campaign_id TEXT NOT NULL DEFAULT '',
	user_ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	referer TEXT NOT NULL DEFAULT '',
	revision TEXT NOT NULL DEFAULT '',
	client_engine TEXT NOT NULL DEFAULT '',
	client_version TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts_sec, ts_nsec);

CREATE TABLE IF NOT EXISTS conversions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	visitor_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	event_name TEXT NOT NULL,
	ts_sec INTEGER,
	ts_nsec INTEGER,
	revenue INTEGER,
	attributed_experiments TEXT,
	attributes TEXT,
	account_id TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT '',
	value REAL,
	quantity INTEGER,
	tags TEXT,
	user_ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	referer TEXT NOT NULL DEFAULT '',
	revision TEXT NOT NULL DEFAULT '',
	client_engine TEXT NOT NULL DEFAULT '',
	client_version TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_conversions_ts ON conversions(ts_sec, ts_nsec);

CREATE TABLE IF NOT EXISTS subject_assignments (
	experiment_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	variation_id TEXT NOT NULL,
	ts_sec INTEGER NOT NULL,
	ts_nsec INTEGER NOT NULL,
	PRIMARY KEY (experiment_id, subject_id, variation_id)
);

CREATE TABLE IF NOT EXISTS exposure_aggregates (
	experiment_id TEXT NOT NULL,
	variation_id TEXT NOT NULL,
	metric TEXT NOT NULL,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversion_aggregates (
	experiment_id TEXT NOT NULL,
	variation_id TEXT NOT NULL,
	event_name TEXT NOT NULL,
	metric TEXT NOT NULL,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	policy TEXT NOT NULL,
	subject_key TEXT NOT NULL,
	window_start TEXT NOT NULL,
	window_end TEXT NOT NULL,
	subjects INTEGER NOT NULL,
	attributions INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	completed_ns INTEGER NOT NULL
);
`

// RunInfo describes one completed run without loading its output.
type RunInfo struct {
	RunID        string
	Policy       attribution.Policy
	SubjectKey   string
	Window       attribution.Window
	Subjects     int
	Attributions int
	Skipped      int
	CompletedAt  time.Time
}

// SQLiteStore persists events and run output to SQLite.
// It is suitable for single-process use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewSQLiteStore opens or creates a store at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// AppendDecisions implements Store.
func (s *SQLiteStore) AppendDecisions(decisions ...attribution.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return closedErr("append decisions")
	}
	return s.inTx(context.Background(), "append decisions", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO decisions (
				visitor_id, session_id, experiment_id, variation_id, ts_sec, ts_nsec, is_holdback,
				attributes, account_id, campaign_id, user_ip, user_agent, referer,
				revision, client_engine, client_version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, d := range decisions {
			attrs, err := marshalNullable(d.Attributes, d.Attributes == nil)
			if err != nil {
				return err
			}
			sec, nsec := unixParts(d.Timestamp)
			if _, err := stmt.Exec(
				d.VisitorID, d.SessionID, d.ExperimentID, d.VariationID, sec, nsec, d.IsHoldback,
				attrs, d.AccountID, d.CampaignID, d.UserIP, d.UserAgent, d.Referer,
				d.Revision, d.ClientEngine, d.ClientVersion,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendConversions implements Store.
func (s *SQLiteStore) AppendConversions(conversions ...attribution.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return closedErr("append conversions")
	}
	return s.inTx(context.Background(), "append conversions", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO conversions (
				visitor_id, session_id, event_name, ts_sec, ts_nsec, revenue, attributed_experiments,
				attributes, account_id, entity_id, event_type, value, quantity, tags,
				user_ip, user_agent, referer, revision, client_engine, client_version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range conversions {
			refs, err := marshalNullable(c.AttributedExperiments, c.AttributedExperiments == nil)
			if err != nil {
				return err
			}
			attrs, err := marshalNullable(c.Attributes, c.Attributes == nil)
			if err != nil {
				return err
			}
			tags, err := marshalNullable(c.Tags, c.Tags == nil)
			if err != nil {
				return err
			}
			sec, nsec := unixParts(c.Timestamp)
			if _, err := stmt.Exec(
				c.VisitorID, c.SessionID, c.EventName, sec, nsec, nullInt(c.Revenue), refs,
				attrs, c.AccountID, c.EntityID, c.EventType, nullFloat(c.Value), nullInt(c.Quantity), tags,
				c.UserIP, c.UserAgent, c.Referer, c.Revision, c.ClientEngine, c.ClientVersion,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Decisions implements attribution.EventSource. Rows come back in insertion
// order. Rows with no timestamp are always included so the engine can
// report them.
func (s *SQLiteStore) Decisions(ctx context.Context, window attribution.Window) ([]attribution.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, closedErr("query decisions")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT visitor_id, session_id, experiment_id, variation_id, ts_sec, ts_nsec, is_holdback,
			attributes, account_id, campaign_id, user_ip, user_agent, referer,
			revision, client_engine, client_version
		FROM decisions
		WHERE ts_sec IS NULL OR ((ts_sec, ts_nsec) >= (?, ?) AND (ts_sec, ts_nsec) <= (?, ?))
		ORDER BY seq`, windowBounds(window)...)
	if err != nil {
		return nil, classify("query decisions", err)
	}
	defer rows.Close()

	var out []attribution.Decision
	for rows.Next() {
		var (
			d         attribution.Decision
			sec, nsec sql.NullInt64
			attrs     sql.NullString
		)
		if err := rows.Scan(
			&d.VisitorID, &d.SessionID, &d.ExperimentID, &d.VariationID, &sec, &nsec, &d.IsHoldback,
			&attrs, &d.AccountID, &d.CampaignID, &d.UserIP, &d.UserAgent, &d.Referer,
			&d.Revision, &d.ClientEngine, &d.ClientVersion,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Timestamp = fromUnixParts(sec, nsec)
		if err := unmarshalNullable(attrs, &d.Attributes); err != nil {
			return nil, fmt.Errorf("decode decision attributes: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate decisions", err)
	}
	return out, nil
}

// Conversions implements attribution.EventSource.
func (s *SQLiteStore) Conversions(ctx context.Context, window attribution.Window) ([]attribution.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, closedErr("query conversions")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT visitor_id, session_id, event_name, ts_sec, ts_nsec, revenue, attributed_experiments,
			attributes, account_id, entity_id, event_type, value, quantity, tags,
			user_ip, user_agent, referer, revision, client_engine, client_version
		FROM conversions
		WHERE ts_sec IS NULL OR ((ts_sec, ts_nsec) >= (?, ?) AND (ts_sec, ts_nsec) <= (?, ?))
		ORDER BY seq`, windowBounds(window)...)
	if err != nil {
		return nil, classify("query conversions", err)
	}
	defer rows.Close()

	var out []attribution.Conversion
	for rows.Next() {
		var (
			c                 attribution.Conversion
			sec, nsec         sql.NullInt64
			revenue, quantity sql.NullInt64
			value             sql.NullFloat64
			refs, attrs, tags sql.NullString
		)
		if err := rows.Scan(
			&c.VisitorID, &c.SessionID, &c.EventName, &sec, &nsec, &revenue, &refs,
			&attrs, &c.AccountID, &c.EntityID, &c.EventType, &value, &quantity, &tags,
			&c.UserIP, &c.UserAgent, &c.Referer, &c.Revision, &c.ClientEngine, &c.ClientVersion,
		); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		c.Timestamp = fromUnixParts(sec, nsec)
		if revenue.Valid {
			c.Revenue = &revenue.Int64
		}
		if quantity.Valid {
			c.Quantity = &quantity.Int64
		}
		if value.Valid {
			c.Value = &value.Float64
		}
		if err := unmarshalNullable(refs, &c.AttributedExperiments); err != nil {
			return nil, fmt.Errorf("decode attributed_experiments: %w", err)
		}
		if refs.Valid && c.AttributedExperiments == nil {
			c.AttributedExperiments = []attribution.ExperimentRef{}
		}
		if err := unmarshalNullable(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("decode conversion attributes: %w", err)
		}
		if err := unmarshalNullable(tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate conversions", err)
	}
	return out, nil
}

// Replace implements attribution.ResultSink. Assignment and aggregate tables
// are cleared and rewritten in one transaction, so readers see either the
// previous run's output or the new one. Run metadata accumulates in runs.
func (s *SQLiteStore) Replace(ctx context.Context, result *attribution.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return closedErr("replace output")
	}
	return s.inTx(ctx, "replace output", func(tx *sql.Tx) error {
		for _, table := range []string{"subject_assignments", "exposure_aggregates", "conversion_aggregates"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}

		for _, a := range result.Subjects {
			sec, nsec := unixParts(a.FirstExposure)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO subject_assignments (experiment_id, subject_id, variation_id, ts_sec, ts_nsec)
				VALUES (?, ?, ?, ?, ?)`,
				a.ExperimentID, a.SubjectID, a.VariationID, sec, nsec,
			); err != nil {
				return err
			}
		}
		for _, row := range result.Exposures {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO exposure_aggregates (experiment_id, variation_id, metric, value)
				VALUES (?, ?, ?, ?)`,
				row.ExperimentID, row.VariationID, string(row.Metric), row.Value,
			); err != nil {
				return err
			}
		}
		for _, row := range result.Conversions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversion_aggregates (experiment_id, variation_id, event_name, metric, value)
				VALUES (?, ?, ?, ?, ?)`,
				row.ExperimentID, row.VariationID, row.EventName, string(row.Metric), row.Value,
			); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (run_id, policy, subject_key, window_start, window_end,
				subjects, attributions, skipped, completed_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				policy = excluded.policy,
				subject_key = excluded.subject_key,
				window_start = excluded.window_start,
				window_end = excluded.window_end,
				subjects = excluded.subjects,
				attributions = excluded.attributions,
				skipped = excluded.skipped,
				completed_ns = excluded.completed_ns`,
			result.RunID, string(result.Policy), result.SubjectKey,
			formatTime(result.Window.Start), formatTime(result.Window.End),
			len(result.Subjects), len(result.Attributions), result.Report.Skipped(),
			s.now().UnixNano(),
		)
		return err
	})
}

// ExposureRows returns the stored exposure aggregates, sorted by experiment and variation.
func (s *SQLiteStore) ExposureRows(ctx context.Context) ([]attribution.AggregateRow, error) {
	return s.aggregateRows(ctx, `
		SELECT experiment_id, variation_id, '', metric, value
		FROM exposure_aggregates
		ORDER BY experiment_id, variation_id, metric`)
}

// ConversionRows returns the stored conversion aggregates, sorted by
// experiment, variation, event, and metric.
func (s *SQLiteStore) ConversionRows(ctx context.Context) ([]attribution.AggregateRow, error) {
	return s.aggregateRows(ctx, `
		SELECT experiment_id, variation_id, event_name, metric, value
		FROM conversion_aggregates
		ORDER BY experiment_id, variation_id, event_name, metric`)
}

func (s *SQLiteStore) aggregateRows(ctx context.Context, query string) ([]attribution.AggregateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, closedErr("query aggregates")
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("query aggregates", err)
	}
	defer rows.Close()

	var out []attribution.AggregateRow
	for rows.Next() {
		var (
			row    attribution.AggregateRow
			metric string
		)
		if err := rows.Scan(&row.ExperimentID, &row.VariationID, &row.EventName, &metric, &row.Value); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		row.Metric = attribution.Metric(metric)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate aggregates", err)
	}
	return out, nil
}

// Runs lists completed runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, closedErr("list runs")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, policy, subject_key, window_start, window_end,
			subjects, attributions, skipped, completed_ns
		FROM runs
		ORDER BY completed_ns DESC, rowid DESC`)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var (
			info       RunInfo
			policy     string
			start, end string
			completed  int64
		)
		if err := rows.Scan(&info.RunID, &policy, &info.SubjectKey, &start, &end,
			&info.Subjects, &info.Attributions, &info.Skipped, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		info.Policy = attribution.Policy(policy)
		info.Window.Start = parseTime(start)
		info.Window.End = parseTime(end)
		info.CompletedAt = time.Unix(0, completed).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate runs", err)
	}
	return infos, nil
}

// Close implements Store. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify marks lock contention as transient so reads can be retried.
// Other database failures are permanent. Context errors are left to the caller.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return attrerr.Transient(err, op)
		}
	}
	return attrerr.Permanent(err, op)
}

func closedErr(op string) error {
	return attrerr.Permanent(ErrStoreClosed, op)
}

// unixParts splits t into the (ts_sec, ts_nsec) columns. The zero time,
// which marks a missing timestamp, is stored as NULL.
func unixParts(t time.Time) (sql.NullInt64, sql.NullInt64) {
	if t.IsZero() {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true},
		sql.NullInt64{Int64: int64(t.Nanosecond()), Valid: true}
}

func fromUnixParts(sec, nsec sql.NullInt64) time.Time {
	if !sec.Valid {
		return time.Time{}
	}
	return time.Unix(sec.Int64, nsec.Int64).UTC()
}

// windowBounds returns the (sec, nsec) pairs of the inclusive window.
// A zero bound is open.
func windowBounds(w attribution.Window) []any {
	loSec, loNsec := int64(math.MinInt64), int64(0)
	hiSec, hiNsec := int64(math.MaxInt64), int64(999_999_999)
	if !w.Start.IsZero() {
		loSec, loNsec = w.Start.Unix(), int64(w.Start.Nanosecond())
	}
	if !w.End.IsZero() {
		hiSec, hiNsec = w.End.Unix(), int64(w.End.Nanosecond())
	}
	return []any{loSec, loNsec, hiSec, hiNsec}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString, v any) error {
	if !s.Valid {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
