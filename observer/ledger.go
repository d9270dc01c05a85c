package observer

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dcshock/defsync/pipeline"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

type dialect int

const (
	sqlite dialect = iota
	postgres
)

// Ledger persists stage transitions and publications so a deployment can be
// audited after the fact ("what was published, when, from which commit").
type Ledger struct {
	db      *sql.DB
	dialect dialect
}

var _ pipeline.Observer = (*Ledger)(nil)

// Open connects to dsn and applies the schema. A postgres:// or
// postgresql:// DSN selects Postgres through pgx; anything else is a SQLite
// file path (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.New("ledger: empty dsn")
	}
	var (
		l      = &Ledger{}
		driver string
		schema string
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		l.dialect, driver, schema = postgres, "pgx", postgresSchema
	default:
		dsn = strings.TrimPrefix(dsn, "sqlite://")
		l.dialect, driver, schema = sqlite, "sqlite3", sqliteSchema
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if l.dialect == sqlite {
		// One writer avoids SQLITE_BUSY between stages.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
			}
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: apply schema: %w", err)
		}
	}
	l.db = db
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// StageChanged implements pipeline.Observer. Status is "available",
// "unavailable", or "failed" when the transition carries an error.
func (l *Ledger) StageChanged(ctx context.Context, ev pipeline.StageEvent) error {
	status := "available"
	var errText sql.NullString
	switch {
	case ev.Err != nil:
		status = "failed"
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	case !ev.Available:
		status = "unavailable"
	}
	_, err := l.db.ExecContext(ctx, l.rebind(`
		INSERT INTO stage_event (run_id, stage, status, available, version, digest, seq, error, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.RunID, ev.Stage, status, ev.Available, string(ev.Version), ev.Digest, int64(ev.Seq), errText, ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert stage event: %w", err)
	}
	return nil
}

// Published implements pipeline.Observer.
func (l *Ledger) Published(ctx context.Context, pub pipeline.Publication) error {
	_, err := l.db.ExecContext(ctx, l.rebind(`
		INSERT INTO publication (run_id, message_id, version, digest, content_type, categories, attempts, bytes, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		pub.RunID, pub.MessageID, string(pub.Version), pub.Digest, pub.ContentType, pub.Categories, pub.Attempts, len(pub.Body), pub.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert publication: %w", err)
	}
	return nil
}

// Record is one stored publication.
type Record struct {
	RunID       string    `json:"run_id"`
	MessageID   string    `json:"message_id"`
	Version     string    `json:"version"`
	Digest      string    `json:"digest"`
	ContentType string    `json:"content_type"`
	Categories  int       `json:"categories"`
	Attempts    int       `json:"attempts"`
	Bytes       int       `json:"bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// Recent returns up to limit publications, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, l.rebind(`
		SELECT run_id, message_id, version, digest, content_type, categories, attempts, bytes, published_at
		FROM publication ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query publications: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at int64
		if err := rows.Scan(&r.RunID, &r.MessageID, &r.Version, &r.Digest, &r.ContentType, &r.Categories, &r.Attempts, &r.Bytes, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan publication: %w", err)
		}
		r.PublishedAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastPublished returns the newest publication, if any.
func (l *Ledger) LastPublished(ctx context.Context) (Record, bool, error) {
	recs, err := l.Recent(ctx, 1)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// Event is one stored stage transition.
type Event struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Digest     string    `json:"digest,omitempty"`
	Error      string    `json:"error,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Events returns the transitions recorded for runID in insertion order.
func (l *Ledger) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(`
		SELECT stage, status, version, digest, error, observed_at
		FROM stage_event WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var errText sql.NullString
		var at int64
		if err := rows.Scan(&e.Stage, &e.Status, &e.Version, &e.Digest, &errText, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		e.Error = errText.String
		e.ObservedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (l *Ledger) rebind(query string) string {
	if l.dialect != postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
