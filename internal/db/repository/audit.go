package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"remedy-audit/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

const auditColumns = `id, feature_id, environment, applied_at, root_cause, diagnosis_json,
	safe_mode, destructive_steps, destructive, status, feedback, updated_at`

// AuditRepo stores remediation audit entries and their status trail in SQLite.
type AuditRepo struct {
	db     *sql.DB // write pool
	readDB *sql.DB
	now    func() time.Time
}

// NewAuditRepo creates a new AuditRepo. Inserts and updates go through
// writeDB, whose BEGIN IMMEDIATE transactions serialize status changes. Get,
// List and ListStatusEvents use readDB; a nil readDB falls back to writeDB.
func NewAuditRepo(writeDB, readDB *sql.DB) *AuditRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &AuditRepo{db: writeDB, readDB: readDB, now: time.Now}
}

// Insert writes a new audit entry. An empty ID is assigned a UUIDv7 and a
// zero Timestamp is set to the current time.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil {
		return domain.ErrValidation("audit entry is required")
	}
	if strings.TrimSpace(e.FeatureID) == "" {
		return domain.ErrValidation("feature_id is required")
	}
	if !e.Status.Valid() {
		return domain.ErrValidation("invalid execution status %q", e.Status)
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	if e.RootCause == "" {
		e.RootCause = domain.RootCauseUnknown
	}
	e.Timestamp = e.Timestamp.UTC()
	e.UpdatedAt = r.now().UTC()

	diagnosis := string(e.Diagnosis.Raw)
	if strings.TrimSpace(diagnosis) == "" {
		diagnosis = "{}"
	}
	var feedback interface{}
	if e.Feedback != nil {
		feedback = string(*e.Feedback)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.FeatureID, e.Environment, formatTime(e.Timestamp), string(e.RootCause), diagnosis,
		boolToInt(e.SafeMode), e.DestructiveSteps, boolToInt(e.Destructive), string(e.Status),
		feedback, formatTime(e.UpdatedAt))
	return mapDBError(err)
}

// Get returns a single audit entry by id.
func (r *AuditRepo) Get(ctx context.Context, id string) (*domain.AuditEntry, error) {
	row := r.readDB.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE id = ?`, id)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("audit entry %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns entries matching filter, newest first, and the total match count.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	var where []string
	var args []interface{}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.RootCause != nil {
		where = append(where, "root_cause = ?")
		args = append(args, string(*filter.RootCause))
	}
	if filter.Since != nil {
		where = append(where, "applied_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "applied_at < ?")
		args = append(args, formatTime(*filter.Until))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	pageArgs := append(append([]interface{}{}, args...), filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries`+clause+` ORDER BY applied_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// SetStatus moves an entry to status and appends the change to the status
// trail in the same transaction. Setting the current status again is a no-op.
func (r *AuditRepo) SetStatus(ctx context.Context, id string, status domain.ExecutionStatus, actor string) error {
	if !status.Valid() {
		return domain.ErrValidation("invalid execution status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM audit_entries WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound("audit entry %q not found", id)
	}
	if err != nil {
		return err
	}

	from := domain.ExecutionStatus(current)
	if from == status {
		return nil
	}
	if !domain.CanTransition(from, status) {
		return domain.ErrInvalidTransition(id, from, status)
	}

	now := formatTime(r.now())
	res, err := tx.ExecContext(ctx, `
		UPDATE audit_entries SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), now, id, current)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict("audit entry %q changed status concurrently", id)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_status_events (audit_id, from_status, to_status, actor, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, current, string(status), actor, now); err != nil {
		return mapDBError(err)
	}
	return tx.Commit()
}

// SetFeedback records or replaces the operator's feedback on an entry.
func (r *AuditRepo) SetFeedback(ctx context.Context, id string, feedback domain.Feedback) error {
	if _, err := domain.ParseFeedback(string(feedback)); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE audit_entries SET feedback = ?, updated_at = ? WHERE id = ?
	`, string(feedback), formatTime(r.now()), id)
	if err != nil {
		return mapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("audit entry %q not found", id)
	}
	return nil
}

// ListStatusEvents returns the status trail of an entry, oldest first.
func (r *AuditRepo) ListStatusEvents(ctx context.Context, id string) ([]domain.StatusEvent, error) {
	rows, err := r.readDB.QueryContext(ctx, `
		SELECT id, audit_id, from_status, to_status, actor, created_at
		FROM audit_status_events WHERE audit_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []domain.StatusEvent
	for rows.Next() {
		var ev domain.StatusEvent
		var from, to, created string
		if err := rows.Scan(&ev.ID, &ev.AuditID, &from, &to, &ev.Actor, &created); err != nil {
			return nil, err
		}
		ev.FromStatus = domain.ExecutionStatus(from)
		ev.ToStatus = domain.ExecutionStatus(to)
		ev.CreatedAt = parseTime(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEntry(s rowScanner) (*domain.AuditEntry, error) {
	var (
		e                     domain.AuditEntry
		appliedAt, updatedAt  string
		rootCause, status     string
		diagnosis             string
		safeMode, destructive int64
		feedback              sql.NullString
	)
	if err := s.Scan(&e.ID, &e.FeatureID, &e.Environment, &appliedAt, &rootCause, &diagnosis,
		&safeMode, &e.DestructiveSteps, &destructive, &status, &feedback, &updatedAt); err != nil {
		return nil, err
	}
	e.Timestamp = parseTime(appliedAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.RootCause = domain.RootCause(rootCause)
	e.Status = domain.ExecutionStatus(status)
	e.Diagnosis = domain.Diagnosis{Raw: []byte(diagnosis)}
	e.SafeMode = safeMode != 0
	e.Destructive = destructive != 0
	if feedback.Valid {
		f := domain.Feedback(feedback.String)
		e.Feedback = &f
	}
	return &e, nil
}
