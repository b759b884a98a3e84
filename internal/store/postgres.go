package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the cases table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS cases (
    id                 TEXT PRIMARY KEY,
    status             TEXT NOT NULL DEFAULT 'created',
    audio_path         TEXT NOT NULL DEFAULT '',
    cleaned_audio_path TEXT NOT NULL DEFAULT '',
    transcript         JSONB,
    clinical_facts     JSONB,
    facts_defaulted    BOOLEAN NOT NULL DEFAULT false,
    p3_pre_fill        JSONB,
    evidence           JSONB NOT NULL DEFAULT '[]',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (transcript, facts, report, evidence) are serialised as JSONB.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate executes the [Schema] DDL against the database, creating the cases
// table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const caseColumns = `id, status, audio_path, cleaned_audio_path,
       transcript, clinical_facts, facts_defaulted, p3_pre_fill, evidence,
       created_at, updated_at`

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = NewCaseID(s.now())
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}

	blobs, err := marshalBlobs(&rec)
	if err != nil {
		return Record{}, err
	}

	const query = `
		INSERT INTO cases (
			id, status, audio_path, cleaned_audio_path,
			transcript, clinical_facts, facts_defaulted, p3_pre_fill, evidence
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.Status, rec.AudioPath, rec.CleanedAudioPath,
		blobs.transcript, blobs.facts, rec.FactsDefaulted, blobs.report, blobs.evidence,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Record{}, ErrDuplicateID
		}
		return Record{}, fmt.Errorf("store: add: %w", err)
	}
	return rec, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: get %q: %w", id, err)
	}
	return rec, nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if opts.Status == "" {
		rows, err = s.db.Query(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+caseColumns+` FROM cases WHERE status = $1 ORDER BY created_at DESC`, opts.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return recs, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	blobs, err := marshalBlobs(&rec)
	if err != nil {
		return err
	}

	const query = `
		UPDATE cases SET
			status = $2, audio_path = $3, cleaned_audio_path = $4,
			transcript = $5, clinical_facts = $6, facts_defaulted = $7,
			p3_pre_fill = $8, evidence = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.Status, rec.AudioPath, rec.CleanedAudioPath,
		blobs.transcript, blobs.facts, rec.FactsDefaulted, blobs.report, blobs.evidence,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: update: %w", err)
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: remove %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// jsonBlobs carries the serialised JSONB column values. Nil pointers map to
// SQL NULL.
type jsonBlobs struct {
	transcript []byte
	facts      []byte
	report     []byte
	evidence   []byte
}

func marshalBlobs(rec *Record) (jsonBlobs, error) {
	var b jsonBlobs
	var err error

	if rec.Transcript != nil {
		if b.transcript, err = json.Marshal(rec.Transcript); err != nil {
			return b, fmt.Errorf("store: marshal transcript: %w", err)
		}
	}
	if rec.Facts != nil {
		if b.facts, err = json.Marshal(rec.Facts); err != nil {
			return b, fmt.Errorf("store: marshal clinical facts: %w", err)
		}
	}
	if rec.Report != nil {
		if b.report, err = json.Marshal(rec.Report); err != nil {
			return b, fmt.Errorf("store: marshal report: %w", err)
		}
	}
	evidence := rec.Evidence
	if evidence == nil {
		evidence = []EvidenceItem{}
	}
	if b.evidence, err = json.Marshal(evidence); err != nil {
		return b, fmt.Errorf("store: marshal evidence: %w", err)
	}
	return b, nil
}

// scanRecord reads one row into a Record, deserialising the JSONB columns.
func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var transcriptJSON, factsJSON, reportJSON, evidenceJSON []byte

	if err := row.Scan(
		&rec.ID, &rec.Status, &rec.AudioPath, &rec.CleanedAudioPath,
		&transcriptJSON, &factsJSON, &rec.FactsDefaulted, &reportJSON, &evidenceJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}

	if len(transcriptJSON) > 0 {
		if err := json.Unmarshal(transcriptJSON, &rec.Transcript); err != nil {
			return Record{}, fmt.Errorf("store: unmarshal transcript: %w", err)
		}
	}
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &rec.Facts); err != nil {
			return Record{}, fmt.Errorf("store: unmarshal clinical facts: %w", err)
		}
	}
	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &rec.Report); err != nil {
			return Record{}, fmt.Errorf("store: unmarshal report: %w", err)
		}
	}
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &rec.Evidence); err != nil {
			return Record{}, fmt.Errorf("store: unmarshal evidence: %w", err)
		}
	}
	return rec, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
