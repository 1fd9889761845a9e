package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/polishcitizenship/portal-core/internal/db"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_case":       `SELECT doc FROM cases WHERE id = $1`,
	"update_case":    `UPDATE cases SET client_ref = $1, state = $2, version = $3, doc = $4, updated_at = $5 WHERE id = $6 AND version = $7`,
	"get_submission": `SELECT submission, result, created_at FROM submissions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	submission JSONB NOT NULL,
	result     JSONB NOT NULL,
	level      TEXT NOT NULL,
	score      INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS submission_answers (
	submission_id TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id   TEXT NOT NULL,
	choice_id     TEXT,
	awarded_score INTEGER NOT NULL,
	unrecognized  BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS cases (
	id         TEXT PRIMARY KEY,
	client_ref TEXT NOT NULL,
	state      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	event          JSONB NOT NULL,
	target         TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_level ON submissions(level);
CREATE INDEX IF NOT EXISTS idx_cases_state ON cases(state);
CREATE INDEX IF NOT EXISTS idx_cases_client_ref ON cases(client_ref);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveSubmission stores the submission and its per-answer scores in one
// transaction.
func (s *PostgresStore) SaveSubmission(ctx context.Context, sub model.Submission, result model.EligibilityResult) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal submission")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO submissions (id, submission, result, level, score, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			sub.ID, subJSON, resultJSON, string(result.Level), result.Score, time.Now().UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert submission %s", sub.ID)
		}
		for _, a := range result.Answers {
			if _, err := tx.Exec(ctx,
				`INSERT INTO submission_answers (submission_id, question_id, choice_id, awarded_score, unrecognized) VALUES ($1, $2, $3, $4, $5)`,
				sub.ID, a.QuestionID, nullable(a.ChoiceID), a.AwardedScore, a.Unrecognized,
			); err != nil {
				return eris.Wrapf(err, "postgres: insert answer %s/%s", sub.ID, a.QuestionID)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*SubmissionRecord, error) {
	var subJSON, resultJSON []byte
	rec := &SubmissionRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT submission, result, created_at FROM submissions WHERE id = $1`, id,
	).Scan(&subJSON, &resultJSON, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: submission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}
	if err := json.Unmarshal(subJSON, &rec.Submission); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal submission")
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return rec, nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, c *model.Case) error {
	if c.Version == 0 {
		c.Version = 1
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal case")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cases (id, client_ref, state, version, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ClientRef, string(c.State), c.Version, doc, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert case %s", c.ID)
}

func (s *PostgresStore) GetCase(ctx context.Context, id string) (*model.Case, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM cases WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: case %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get case %s", id)
	}
	return decodeCase(doc)
}

func (s *PostgresStore) UpdateCase(ctx context.Context, c *model.Case, prevVersion int) error {
	next := *c
	next.Version = prevVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal case")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET client_ref = $1, state = $2, version = $3, doc = $4, updated_at = $5 WHERE id = $6 AND version = $7`,
		next.ClientRef, string(next.State), next.Version, doc, next.UpdatedAt, c.ID, prevVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update case %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return eris.Wrapf(err, "postgres: check case %s", c.ID)
		}
		if !exists {
			return eris.Wrapf(ErrNotFound, "postgres: case %s", c.ID)
		}
		return eris.Wrapf(ErrVersionConflict, "postgres: case %s", c.ID)
	}
	c.Version = next.Version
	return nil
}

func (s *PostgresStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.Case, error) {
	query := `SELECT doc FROM cases WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.States) > 0 {
		query += fmt.Sprintf(` AND state = ANY($%d)`, argIdx)
		args = append(args, stateStrings(filter.States))
		argIdx++
	}
	if filter.ClientRef != "" {
		query += fmt.Sprintf(` AND client_ref = $%d`, argIdx)
		args = append(args, filter.ClientRef)
		argIdx++
	}
	if filter.After != nil {
		query += fmt.Sprintf(` AND (created_at < $%d OR (created_at = $%d AND id > $%d))`, argIdx, argIdx, argIdx+1)
		args = append(args, filter.After.CreatedAt, filter.After.ID)
		argIdx += 2
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cases")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case")
		}
		c, err := decodeCase(doc)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: list cases iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq event")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, event, target, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, retry_count = $6,
		   next_retry_at = $8, last_failed_at = $10`,
		entry.ID, eventJSON, entry.Target, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, event, target, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var eventJSON []byte
		if err := rows.Scan(&e.ID, &eventJSON, &e.Target, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(eventJSON, &e.Event); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq event")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
