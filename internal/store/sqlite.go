package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	submission TEXT NOT NULL,
	result     TEXT NOT NULL,
	level      TEXT NOT NULL,
	score      INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
	id         TEXT PRIMARY KEY,
	client_ref TEXT NOT NULL,
	state      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	event          TEXT NOT NULL,
	target         TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_failed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_level ON submissions(level);
CREATE INDEX IF NOT EXISTS idx_cases_state ON cases(state);
CREATE INDEX IF NOT EXISTS idx_cases_client_ref ON cases(client_ref);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub model.Submission, result model.EligibilityResult) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal submission")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, submission, result, level, score, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, string(subJSON), string(resultJSON), string(result.Level), result.Score, time.Now().UTC().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: insert submission %s", sub.ID)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*SubmissionRecord, error) {
	var subJSON, resultJSON string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT submission, result, created_at FROM submissions WHERE id = ?`, id,
	).Scan(&subJSON, &resultJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: submission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get submission %s", id)
	}
	rec := &SubmissionRecord{CreatedAt: time.Unix(0, created).UTC()}
	if err := json.Unmarshal([]byte(subJSON), &rec.Submission); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal submission")
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return rec, nil
}

func (s *SQLiteStore) CreateCase(ctx context.Context, c *model.Case) error {
	if c.Version == 0 {
		c.Version = 1
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal case")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, client_ref, state, version, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientRef, string(c.State), c.Version, string(doc), c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: insert case %s", c.ID)
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM cases WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: case %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get case %s", id)
	}
	return decodeCase([]byte(doc))
}

func (s *SQLiteStore) UpdateCase(ctx context.Context, c *model.Case, prevVersion int) error {
	next := *c
	next.Version = prevVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal case")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET client_ref = ?, state = ?, version = ?, doc = ?, updated_at = ? WHERE id = ? AND version = ?`,
		next.ClientRef, string(next.State), next.Version, string(doc), next.UpdatedAt.UnixNano(), c.ID, prevVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update case %s", c.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.missingOrConflict(ctx, c.ID)
	}
	c.Version = next.Version
	return nil
}

func (s *SQLiteStore) missingOrConflict(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: case %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check case %s", id)
	}
	return eris.Wrapf(ErrVersionConflict, "sqlite: case %s", id)
}

func (s *SQLiteStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.Case, error) {
	query := `SELECT doc FROM cases WHERE 1=1`
	var args []any

	if len(filter.States) > 0 {
		query += ` AND state IN (` + strings.TrimSuffix(strings.Repeat("?,", len(filter.States)), ",") + `)`
		for _, st := range stateStrings(filter.States) {
			args = append(args, st)
		}
	}
	if filter.ClientRef != "" {
		query += ` AND client_ref = ?`
		args = append(args, filter.ClientRef)
	}
	if filter.After != nil {
		at := filter.After.CreatedAt.UnixNano()
		query += ` AND (created_at < ? OR (created_at = ? AND id > ?))`
		args = append(args, at, at, filter.After.ID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cases")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case")
		}
		c, err := decodeCase([]byte(doc))
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: list cases iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq event")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, event, target, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, string(eventJSON), entry.Target, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UnixNano(), entry.CreatedAt.UnixNano(), entry.LastFailedAt.UnixNano(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, event, target, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC().UnixNano()}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var eventJSON string
		var next, created, failed int64
		if err := rows.Scan(&e.ID, &eventJSON, &e.Target, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &next, &created, &failed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(eventJSON), &e.Event); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq event")
		}
		e.NextRetryAt = time.Unix(0, next).UTC()
		e.CreatedAt = time.Unix(0, created).UTC()
		e.LastFailedAt = time.Unix(0, failed).UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UnixNano(), lastErr, time.Now().UTC().UnixNano(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func decodeCase(doc []byte) (*model.Case, error) {
	var c model.Case
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal case")
	}
	return &c, nil
}
