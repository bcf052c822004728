// Package requestlog is the durable, append-mostly record of every
// partition ingest attempt (spec C3): data type, partition key, ingest
// date, request params, row count, checksum, status, and error. It is
// backed by an embedded SQLite file, matching the teacher's sqlx +
// mattn/go-sqlite3 + goose stack.
package requestlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	sherr "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status mirrors archiver.Status for the outcome column, kept as a
// distinct type because the archiver package itself imports this one.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusUpdated  Status = "updated"
	StatusNoChange Status = "no_change"
	StatusNoData   Status = "no_data"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// Entry is one row of the request log.
type Entry struct {
	DataType     string
	PartitionKey string
	IngestDate   string
	Params       string
	RowCount     int
	Checksum     string
	Status       Status
	ErrorMessage string
	UpdatedAt    time.Time
}

// Store wraps the SQLite-backed request log.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path (created if absent), sets a
// busy timeout so concurrent archiver goroutines don't fail immediately
// on a locked database, and runs pending goose migrations.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeout.Milliseconds())
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, sherr.FailedToWithDetails("open request log database", "requestlog", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers; one connection avoids SQLITE_BUSY churn.

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, sherr.FailedToWithDetails("set migration dialect", "requestlog", path, err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, sherr.FailedToWithDetails("run migrations", "requestlog", path, err)
	}

	return &Store{db: db}, nil
}

// OpenFromDB wraps an already-open *sql.DB, used by tests that want a
// sqlmock-backed Store without touching the filesystem or goose.
func OpenFromDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite3")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records one partition attempt, overwriting any prior attempt for
// the same (data_type, partition_key, ingest_date) key (spec C3: "the
// unique key is a compound of data_type, partition_key, and ingest_date").
// It returns the underlying error rather than swallowing it — the caller
// (the archiver base) decides whether to log-and-continue per spec's
// "log-write failures are non-fatal".
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	const query = `
INSERT INTO request_log
	(data_type, partition_key, ingest_date, params, row_count, checksum, status, error_message, updated_at)
VALUES
	(:data_type, :partition_key, :ingest_date, :params, :row_count, :checksum, :status, :error_message, CURRENT_TIMESTAMP)
ON CONFLICT (data_type, partition_key, ingest_date) DO UPDATE SET
	params = excluded.params,
	row_count = excluded.row_count,
	checksum = excluded.checksum,
	status = excluded.status,
	error_message = excluded.error_message,
	updated_at = CURRENT_TIMESTAMP
`
	_, err := s.db.NamedExecContext(ctx, query, map[string]interface{}{
		"data_type":     e.DataType,
		"partition_key": e.PartitionKey,
		"ingest_date":   e.IngestDate,
		"params":        e.Params,
		"row_count":     e.RowCount,
		"checksum":      e.Checksum,
		"status":        string(e.Status),
		"error_message": e.ErrorMessage,
	})
	if err != nil {
		return sherr.FailedToWithDetails("record request log entry", "requestlog", e.DataType+"/"+e.PartitionKey, err)
	}
	return nil
}

// LastChecksum returns the most recently recorded checksum for a
// partition, used by archivers to short-circuit a write when the vendor
// returns unchanged data (spec §4.5 "process contract"). It considers
// success, updated, and no_change rows — a no_change row carries forward
// the checksum of whatever it was compared against, but it is still the
// most current known value, and restricting to "success" alone would go
// stale the moment a partition is ever re-ingested as "updated".
func (s *Store) LastChecksum(ctx context.Context, dataType, partitionKey string) (string, bool, error) {
	var checksum string
	err := s.db.GetContext(ctx, &checksum, `
SELECT checksum FROM request_log
WHERE data_type = ? AND partition_key = ? AND status IN (?, ?, ?)
ORDER BY ingest_date DESC, id DESC LIMIT 1`, dataType, partitionKey,
		string(StatusSuccess), string(StatusUpdated), string(StatusNoChange))
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, sherr.FailedToWithDetails("query last checksum", "requestlog", dataType+"/"+partitionKey, err)
	}
	return checksum, true, nil
}

// SuccessfulPartitionKeys returns every partition key with at least one
// successful entry for dataType, used by the code-driven archiver to
// resume past already-completed codes after a partial failure (spec
// "S5. Code-driven resume").
func (s *Store) SuccessfulPartitionKeys(ctx context.Context, dataType string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
SELECT DISTINCT partition_key FROM request_log
WHERE data_type = ? AND status = ?`, dataType, string(StatusSuccess))
	if err != nil {
		return nil, sherr.FailedToWithDetails("query successful partition keys", "requestlog", dataType, err)
	}
	return keys, nil
}

// RecordedPartitionKeys returns every partition key with a status ∈
// {success, updated} log entry for dataType — the quality checker's
// definition of "has an ingest record" for a completeness sweep (spec
// Invariant 2: "∀ log entry with status ∈ {success, updated}: the
// referenced partition directory exists").
func (s *Store) RecordedPartitionKeys(ctx context.Context, dataType string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
SELECT DISTINCT partition_key FROM request_log
WHERE data_type = ? AND status IN (?, ?)`, dataType, string(StatusSuccess), string(StatusUpdated))
	if err != nil {
		return nil, sherr.FailedToWithDetails("query recorded partition keys", "requestlog", dataType, err)
	}
	return keys, nil
}

// History returns up to limit most recent entries for dataType, newest
// first, used by the quality checker and CLI introspection.
func (s *Store) History(ctx context.Context, dataType string, limit int) ([]Entry, error) {
	type row struct {
		DataType     string    `db:"data_type"`
		PartitionKey string    `db:"partition_key"`
		IngestDate   string    `db:"ingest_date"`
		Params       string    `db:"params"`
		RowCount     int       `db:"row_count"`
		Checksum     string    `db:"checksum"`
		Status       string    `db:"status"`
		ErrorMessage string    `db:"error_message"`
		UpdatedAt    time.Time `db:"updated_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
SELECT data_type, partition_key, ingest_date, params, row_count, checksum, status, error_message, updated_at
FROM request_log
WHERE data_type = ?
ORDER BY updated_at DESC
LIMIT ?`, dataType, limit)
	if err != nil {
		return nil, sherr.FailedToWithDetails("query request log history", "requestlog", dataType, err)
	}

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{
			DataType: r.DataType, PartitionKey: r.PartitionKey, IngestDate: r.IngestDate,
			Params: r.Params, RowCount: r.RowCount, Checksum: r.Checksum,
			Status: Status(r.Status), ErrorMessage: r.ErrorMessage, UpdatedAt: r.UpdatedAt,
		}
	}
	return out, nil
}

// LogAndSwallow calls Upsert and logs, rather than returns, any failure —
// the rendering of spec C3's "request log writes never abort an
// otherwise-successful ingest".
func (s *Store) LogAndSwallow(ctx context.Context, e Entry, log *logrus.Entry) {
	if err := s.Upsert(ctx, e); err != nil {
		log.WithError(err).WithField("data_type", e.DataType).WithField("partition_key", e.PartitionKey).
			Error("failed to write request log entry; continuing")
	}
}
