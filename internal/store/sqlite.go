// Package store is the local case journal: the cases and evidence uploaded
// from this workstation, a cache of the persons list and an audit trail of
// investigator actions. Match results are never stored.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// Store represents the SQLite journal
type Store struct {
	db *sql.DB
}

// CaseRecord is a case created from this console
type CaseRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"case_name"`
	Description      string    `json:"description"`
	Investigator     string    `json:"investigator_name"`
	EvidenceSampleID string    `json:"evidence_sample_id,omitempty"`
	Suspects         []string  `json:"suspects"`
	CreatedAt        time.Time `json:"created_at"`
}

// SampleRecord is an evidence upload made from this console
type SampleRecord struct {
	SampleID   string    `json:"sample_id"`
	CaseID     string    `json:"case_id,omitempty"`
	PersonID   string    `json:"person_id,omitempty"`
	FileName   string    `json:"file_name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewStore opens (and migrates) the journal at dbPath. ":memory:" gives a
// throwaway database.
func NewStore(dbPath string) (*Store, error) {
	memory := strings.HasPrefix(dbPath, ":memory:")
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(sqliteDriver, sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			case_name TEXT NOT NULL,
			description TEXT,
			investigator TEXT NOT NULL,
			evidence_sample_id TEXT,
			suspects TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS samples (
			sample_id TEXT PRIMARY KEY,
			case_id TEXT,
			person_id TEXT,
			file_name TEXT,
			uploaded_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS persons_cache (
			person_id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			age INTEGER,
			occupation TEXT,
			notes TEXT,
			sample_count INTEGER DEFAULT 0,
			case_count INTEGER DEFAULT 0,
			fetched_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_case_id ON samples(case_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return s.setupAuditTables()
}

// RecordCase journals a case returned by the backend. Recording the same
// case again replaces the previous row.
func (s *Store) RecordCase(ctx context.Context, c api.Case) (CaseRecord, error) {
	rec := CaseRecord{
		ID:               c.Key().String(),
		Name:             c.CaseName,
		Description:      c.Description,
		Investigator:     c.InvestigatorName,
		EvidenceSampleID: c.EvidenceSampleID.String(),
		Suspects:         make([]string, 0, len(c.Suspects)),
		CreatedAt:        time.Now(),
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("case has no id")
	}
	for _, id := range c.Suspects {
		rec.Suspects = append(rec.Suspects, id.String())
	}
	suspects, err := json.Marshal(rec.Suspects)
	if err != nil {
		return rec, fmt.Errorf("failed to marshal suspects: %w", err)
	}

	query := `INSERT OR REPLACE INTO cases (
		id, case_name, description, investigator, evidence_sample_id, suspects, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Description, rec.Investigator,
		rec.EvidenceSampleID, string(suspects), rec.CreatedAt.UnixNano())
	if err != nil {
		return rec, fmt.Errorf("failed to save case: %w", err)
	}
	return rec, nil
}

// GetCase returns a journaled case, or sql.ErrNoRows.
func (s *Store) GetCase(ctx context.Context, id string) (CaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, case_name, description, investigator,
		evidence_sample_id, suspects, created_at FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

// ListCases returns journaled cases, newest first.
func (s *Store) ListCases(ctx context.Context) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, case_name, description, investigator,
		evidence_sample_id, suspects, created_at FROM cases ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	var cases []CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, rec)
	}
	return cases, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(sc scanner) (CaseRecord, error) {
	var rec CaseRecord
	var description, evidence sql.NullString
	var suspects string
	var createdAt int64
	if err := sc.Scan(&rec.ID, &rec.Name, &description, &rec.Investigator, &evidence, &suspects, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan case: %w", err)
	}
	rec.Description = description.String
	rec.EvidenceSampleID = evidence.String
	rec.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(suspects), &rec.Suspects); err != nil {
		rec.Suspects = nil
	}
	return rec, nil
}

// RecordSamples journals uploaded samples in one transaction.
func (s *Store) RecordSamples(ctx context.Context, samples []api.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO samples (
		sample_id, case_id, person_id, file_name, uploaded_at
	) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, smp := range samples {
		if smp.SampleID == "" {
			return fmt.Errorf("sample %d has no id", i)
		}
		// Offset keeps upload order stable within one batch.
		at := now.Add(time.Duration(i)).UnixNano()
		if _, err := stmt.ExecContext(ctx, smp.SampleID.String(), smp.CaseID.String(), smp.PersonID.String(), smp.FileName, at); err != nil {
			return fmt.Errorf("failed to save sample %s: %w", smp.SampleID, err)
		}
	}
	return tx.Commit()
}

// SamplesByCase returns the samples journaled for caseID in upload order.
func (s *Store) SamplesByCase(ctx context.Context, caseID string) ([]SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sample_id, case_id, person_id, file_name, uploaded_at
		FROM samples WHERE case_id = ? ORDER BY uploaded_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []SampleRecord
	for rows.Next() {
		var rec SampleRecord
		var caseCol, personCol, fileCol sql.NullString
		var uploadedAt int64
		if err := rows.Scan(&rec.SampleID, &caseCol, &personCol, &fileCol, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		rec.CaseID = caseCol.String
		rec.PersonID = personCol.String
		rec.FileName = fileCol.String
		rec.UploadedAt = time.Unix(0, uploadedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CachePersons replaces the cached persons list.
func (s *Store) CachePersons(ctx context.Context, persons []api.Person) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM persons_cache`); err != nil {
		return fmt.Errorf("failed to clear persons cache: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO persons_cache (
		person_id, position, name, age, occupation, notes, sample_count, case_count, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare person insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, p := range persons {
		if p.Key() == "" {
			continue
		}
		var age sql.NullInt64
		if p.Age != nil {
			age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.Key().String(), i, p.Name, age,
			p.Occupation, p.Notes, p.SampleCount, p.CaseCount, now); err != nil {
			return fmt.Errorf("failed to cache person %s: %w", p.Key(), err)
		}
	}
	return tx.Commit()
}

// CachedPersons returns the cached persons in the order they were fetched,
// with the time of the last refresh.
func (s *Store) CachedPersons(ctx context.Context) ([]api.Person, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT person_id, name, age, occupation, notes,
		sample_count, case_count, fetched_at FROM persons_cache ORDER BY position ASC`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query persons cache: %w", err)
	}
	defer rows.Close()

	var persons []api.Person
	var fetched int64
	for rows.Next() {
		var p api.Person
		var id string
		var age sql.NullInt64
		var occupation, notes sql.NullString
		if err := rows.Scan(&id, &p.Name, &age, &occupation, &notes, &p.SampleCount, &p.CaseCount, &fetched); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan person: %w", err)
		}
		p.ID = api.ID(id)
		if age.Valid {
			n := int(age.Int64)
			p.Age = &n
		}
		p.Occupation = occupation.String
		p.Notes = notes.String
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if len(persons) == 0 {
		return nil, time.Time{}, nil
	}
	return persons, time.Unix(fetched, 0), nil
}

// Reset deletes every journaled row.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"audit_entries", "samples", "persons_cache", "cases"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
