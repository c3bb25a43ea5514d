package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Audit actions recorded by the console.
const (
	ActionCaseCreated     = "case_created"
	ActionEvidenceUpload  = "evidence_uploaded"
	ActionSuspectsChanged = "suspects_changed"
	ActionMatchCompleted  = "match_completed"
	ActionMatchFailed     = "match_failed"
	ActionExport          = "export"
	ActionLogin           = "login"
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	SampleID  string         `json:"sample_id,omitempty"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

func (s *Store) setupAuditTables() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			sample_id TEXT,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_case_id ON audit_entries(case_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute audit migration: %w", err)
		}
	}
	return nil
}

// AddAuditEntry adds an audit entry to the database
func (s *Store) AddAuditEntry(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `INSERT INTO audit_entries (
		id, case_id, sample_id, action, actor, details, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.CaseID, entry.SampleID, entry.Action, entry.Actor,
		string(detailsJSON), entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// GetAuditEntries retrieves audit entries for a case, newest first. An empty
// caseID returns entries for every case.
func (s *Store) GetAuditEntries(ctx context.Context, caseID string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, case_id, sample_id, action, actor, details, timestamp FROM audit_entries`
	var args []any
	if caseID != "" {
		query += ` WHERE case_id = ?`
		args = append(args, caseID)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var sampleID *string
		var detailsJSON string
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.CaseID, &sampleID, &entry.Action,
			&entry.Actor, &detailsJSON, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, timestamp)
		if sampleID != nil {
			entry.SampleID = *sampleID
		}
		if err := json.Unmarshal([]byte(detailsJSON), &entry.Details); err != nil {
			entry.Details = map[string]any{"raw": detailsJSON}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LogCaseAction logs a case-related action
func (s *Store) LogCaseAction(ctx context.Context, caseID, action, actor string, details map[string]any) error {
	return s.AddAuditEntry(ctx, AuditEntry{
		CaseID:  caseID,
		Action:  action,
		Actor:   actor,
		Details: details,
	})
}

// LogSampleAction logs an action on one evidence sample
func (s *Store) LogSampleAction(ctx context.Context, caseID, sampleID, action, actor string, details map[string]any) error {
	return s.AddAuditEntry(ctx, AuditEntry{
		CaseID:   caseID,
		SampleID: sampleID,
		Action:   action,
		Actor:    actor,
		Details:  details,
	})
}
