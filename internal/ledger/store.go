// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records finished mapping sessions in a SQLite database:
// the committed matches, warnings, and provider usage of each session.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

const dbFile = "msmapper.db"

// timeLayout keeps a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a session is not in the ledger.
var ErrNotFound = errors.New("session not found")

// Store manages the ledger database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens or creates the ledger at cfg.DataDir/msmapper.db and
// creates the schema if it does not exist.
func NewStore(cfg types.LedgerConfig) (*Store, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = types.DefaultConfig().Ledger.DataDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			media_type TEXT,
			size INTEGER,
			schema_name TEXT,
			status TEXT NOT NULL,
			is_success INTEGER NOT NULL,
			error TEXT,
			aggregate REAL,
			level TEXT,
			warning_count INTEGER,
			warnings TEXT,
			chunks INTEGER,
			records INTEGER,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
		`CREATE TABLE IF NOT EXISTS matches (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			score REAL,
			kind TEXT,
			algorithm TEXT,
			PRIMARY KEY (session_id, target)
		)`,
		`CREATE TABLE IF NOT EXISTS provider_usage (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			provider TEXT NOT NULL,
			calls INTEGER,
			input_tokens INTEGER,
			output_tokens INTEGER,
			cost REAL,
			PRIMARY KEY (session_id, provider)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// RecordResult stores a finished session. Recording the same session
// again replaces its earlier rows.
func (s *Store) RecordResult(ctx context.Context, res types.MappingResult) error {
	if res.SessionID == "" {
		return errors.New("recording session: empty session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	warningsJSON, err := json.Marshal(res.Warnings)
	if err != nil {
		return fmt.Errorf("encoding warnings: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, document, media_type, size, schema_name, status, is_success, error,
			aggregate, level, warning_count, warnings, chunks, records, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			document=excluded.document, media_type=excluded.media_type, size=excluded.size,
			schema_name=excluded.schema_name, status=excluded.status, is_success=excluded.is_success,
			error=excluded.error, aggregate=excluded.aggregate, level=excluded.level,
			warning_count=excluded.warning_count, warnings=excluded.warnings,
			chunks=excluded.chunks, records=excluded.records,
			started_at=excluded.started_at, finished_at=excluded.finished_at`,
		res.SessionID, res.Document.Name, res.Document.MediaType, res.Document.Size, res.Schema,
		string(res.Status), res.IsSuccess, res.ErrorMessage,
		res.Confidence.Aggregate, string(res.Confidence.Level), len(res.Warnings), string(warningsJSON),
		res.Chunks, res.Records, formatTime(res.StartedAt), formatTime(res.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	for _, table := range []string{"matches", "provider_usage"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, res.SessionID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO matches (session_id, source, target, score, kind, algorithm) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing match insert: %w", err)
	}
	defer stmt.Close()
	for _, m := range res.Matches {
		if _, err := stmt.ExecContext(ctx, res.SessionID, m.SourceField, m.TargetField, m.Score, string(m.Kind), m.Algorithm); err != nil {
			return fmt.Errorf("inserting match %s: %w", m.TargetField, err)
		}
	}

	for name, u := range res.Usage {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO provider_usage (session_id, provider, calls, input_tokens, output_tokens, cost)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			res.SessionID, name, u.Calls, u.InputTokens, u.OutputTokens, u.Cost,
		)
		if err != nil {
			return fmt.Errorf("inserting usage for %s: %w", name, err)
		}
	}

	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SessionQuery filters Sessions.
type SessionQuery struct {
	// Status keeps only sessions with this status.
	Status types.SessionStatus

	// Schema keeps only sessions mapped onto this schema.
	Schema string

	// Limit caps the result count. Zero means 20.
	Limit int
}

// SessionRecord is one ledger row. Matches and Warnings are filled by
// Session only.
type SessionRecord struct {
	ID           string                 `json:"id" yaml:"id"`
	Document     string                 `json:"document" yaml:"document"`
	MediaType    string                 `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Size         int64                  `json:"size" yaml:"size"`
	Schema       string                 `json:"schema" yaml:"schema"`
	Status       types.SessionStatus    `json:"status" yaml:"status"`
	IsSuccess    bool                   `json:"is_success" yaml:"is_success"`
	Error        string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Aggregate    float64                `json:"aggregate" yaml:"aggregate"`
	Level        types.ConfidenceLevel  `json:"level" yaml:"level"`
	WarningCount int                    `json:"warning_count" yaml:"warning_count"`
	Chunks       int                    `json:"chunks" yaml:"chunks"`
	Records      int                    `json:"records" yaml:"records"`
	StartedAt    time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time              `json:"finished_at" yaml:"finished_at"`
	Matches      []types.PropertyMatch  `json:"matches,omitempty" yaml:"matches,omitempty"`
	Warnings     []types.MappingWarning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

const sessionColumns = `id, document, media_type, size, schema_name, status, is_success, error,
	aggregate, level, warning_count, chunks, records, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		r                     SessionRecord
		mediaType, errMsg     sql.NullString
		schemaName, level     sql.NullString
		status                string
		started, finished     sql.NullString
		size                  sql.NullInt64
		aggregate             sql.NullFloat64
		warnings, chunks, rec sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Document, &mediaType, &size, &schemaName, &status, &r.IsSuccess, &errMsg,
		&aggregate, &level, &warnings, &chunks, &rec, &started, &finished)
	if err != nil {
		return SessionRecord{}, err
	}
	r.MediaType = mediaType.String
	r.Size = size.Int64
	r.Schema = schemaName.String
	r.Status = types.SessionStatus(status)
	r.Error = errMsg.String
	r.Aggregate = aggregate.Float64
	r.Level = types.ConfidenceLevel(level.String)
	r.WarningCount = int(warnings.Int64)
	r.Chunks = int(chunks.Int64)
	r.Records = int(rec.Int64)
	r.StartedAt = parseTime(started.String)
	r.FinishedAt = parseTime(finished.String)
	return r, nil
}

// Sessions lists recorded sessions, most recent first.
func (s *Store) Sessions(ctx context.Context, q SessionQuery) ([]SessionRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`)
	if q.Status != "" {
		qb.WriteString(` AND status = ?`)
		args = append(args, string(q.Status))
	}
	if q.Schema != "" {
		qb.WriteString(` AND schema_name = ?`)
		args = append(args, q.Schema)
	}
	qb.WriteString(` ORDER BY started_at DESC, id LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Session returns one session with its matches and warnings.
func (s *Store) Session(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("reading session %s: %w", id, err)
	}

	var warningsJSON sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT warnings FROM sessions WHERE id = ?`, id).Scan(&warningsJSON); err != nil {
		return SessionRecord{}, fmt.Errorf("reading warnings of %s: %w", id, err)
	}
	if warningsJSON.Valid && warningsJSON.String != "" && warningsJSON.String != "null" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &r.Warnings); err != nil {
			return SessionRecord{}, fmt.Errorf("decoding warnings of %s: %w", id, err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, target, score, kind, algorithm FROM matches WHERE session_id = ? ORDER BY target`, id)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m          types.PropertyMatch
			kind, algo sql.NullString
		)
		if err := rows.Scan(&m.SourceField, &m.TargetField, &m.Score, &kind, &algo); err != nil {
			return SessionRecord{}, fmt.Errorf("scanning match: %w", err)
		}
		m.Kind = types.MatchKind(kind.String)
		m.Algorithm = algo.String
		r.Matches = append(r.Matches, m)
	}
	return r, rows.Err()
}

// ProviderTotal aggregates provider usage across recorded sessions.
type ProviderTotal struct {
	Provider     string  `json:"provider" yaml:"provider"`
	Sessions     int     `json:"sessions" yaml:"sessions"`
	Calls        int     `json:"calls" yaml:"calls"`
	InputTokens  int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int     `json:"output_tokens" yaml:"output_tokens"`
	Cost         float64 `json:"cost" yaml:"cost"`
}

// UsageByProvider sums recorded usage per provider, ordered by name.
func (s *Store) UsageByProvider(ctx context.Context) ([]ProviderTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COUNT(DISTINCT session_id), SUM(calls), SUM(input_tokens), SUM(output_tokens), SUM(cost)
		 FROM provider_usage GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var out []ProviderTotal
	for rows.Next() {
		var t ProviderTotal
		if err := rows.Scan(&t.Provider, &t.Sessions, &t.Calls, &t.InputTokens, &t.OutputTokens, &t.Cost); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
