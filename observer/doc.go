// Package observer provides pipeline.Observer implementations.
//
//   - Ledger: persists every stage transition (stage_event) and every
//     accepted publication (publication) through database/sql, to SQLite
//     for a local file DSN or Postgres for a postgres:// DSN. The history
//     command reads it back.
//   - Logger: writes the same events as structured log lines.
//
// Observers are best-effort: the pipeline logs their errors and carries on.
package observer
