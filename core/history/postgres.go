package history

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS certification_history (
  entry_id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  verdict TEXT NOT NULL,
  failed_checks TEXT[] NOT NULL DEFAULT '{}',
  warnings INTEGER NOT NULL DEFAULT 0,
  thresholds_digest TEXT NOT NULL,
  manifest_digest TEXT NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps entries in a certification_history table.
type PostgresStore struct{ DB *pgxpool.Pool }

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{DB: db} }

// ConnectPostgres opens a pool for dsn and ensures the history table exists.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, coreerrors.Validation("history.dsn", "")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_connect_failed", "check the postgres dsn", true)
	}
	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, createTableSQL); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_schema_failed", "check database permissions", true)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.DB.Close()
}

func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	failed := entry.FailedChecks
	if failed == nil {
		failed = []string{}
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO certification_history(entry_id,run_id,verdict,failed_checks,warnings,thresholds_digest,manifest_digest,recorded_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.EntryID, entry.RunID, entry.Verdict, failed, entry.Warnings, entry.ThresholdsDigest, entry.ManifestDigest, entry.RecordedAt.UTC())
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_record_failed", "check database connectivity", true)
	}
	return nil
}

// List returns matching entries oldest first.
func (s *PostgresStore) List(ctx context.Context, query Query) ([]Entry, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.Query(ctx, `
SELECT entry_id,run_id,verdict,failed_checks,warnings,thresholds_digest,manifest_digest,recorded_at
FROM (
  SELECT * FROM certification_history
  WHERE ($1 = '' OR run_id = $1)
  ORDER BY recorded_at DESC, entry_id DESC
  LIMIT NULLIF($2, -1)
) recent
ORDER BY recorded_at ASC, entry_id ASC
`, query.RunID, limit)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_list_failed", "check database connectivity", true)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.EntryID, &entry.RunID, &entry.Verdict, &entry.FailedChecks, &entry.Warnings, &entry.ThresholdsDigest, &entry.ManifestDigest, &entry.RecordedAt); err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_list_failed", "check the history table schema", false)
		}
		entry.RecordedAt = entry.RecordedAt.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "history_list_failed", "check database connectivity", true)
	}
	return out, nil
}
