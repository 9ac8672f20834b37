package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"workswitch/internal/core"
)

var ErrActivationNotFound = errors.New("activation not found")

var _ core.History = (*Store)(nil)

// InsertActivation stores a new activation row.
func (s *Store) InsertActivation(ctx context.Context, rec *core.ActivationRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activations (id, profile_id, profile_name, trigger_kind, status, steps_total, steps_failed, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ProfileID, rec.ProfileName, rec.Trigger, rec.Status, rec.StepsTotal, rec.StepsFailed,
		formatTime(rec.StartedAt), nullableTime(rec.EndedAt))
	if err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

// RecordStepResult appends the outcome of one step.
func (s *Store) RecordStepResult(ctx context.Context, activationID string, res core.StepResult) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activation_steps (activation_id, position, step_id, step_name, status, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, activationID, res.Position, res.StepID, res.StepName, res.Status, nullableString(res.Error),
		formatTime(res.StartedAt), formatTime(res.EndedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrActivationNotFound
		}
		return fmt.Errorf("record step result: %w", err)
	}
	return nil
}

// MarkActivationFinished sets the final status of an activation.
func (s *Store) MarkActivationFinished(ctx context.Context, id string, status core.ActivationStatus, stepsFailed int, endedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE activations
		SET status = ?, steps_failed = ?, ended_at = ?
		WHERE id = ?
	`, status, stepsFailed, formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("mark activation finished: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrActivationNotFound
	}
	return nil
}

// MarkInterrupted closes activations left running by a previous process.
func (s *Store) MarkInterrupted(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE activations
		SET status = ?, ended_at = ?
		WHERE status = ?
	`, core.ActivationStatusCancelled, formatTime(at), core.ActivationStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted activations: %w", err)
	}
	return res.RowsAffected()
}

// GetActivation returns an activation with its step results.
func (s *Store) GetActivation(ctx context.Context, id string) (*core.ActivationRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, profile_id, profile_name, trigger_kind, status, steps_total, steps_failed, started_at, ended_at
		FROM activations WHERE id = ?
	`, id)
	rec, err := scanActivation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT position, step_id, step_name, status, error, started_at, ended_at
		FROM activation_steps
		WHERE activation_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list activation steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			res       core.StepResult
			status    string
			errMsg    sql.NullString
			startedAt string
			endedAt   string
		)
		if err := rows.Scan(&res.Position, &res.StepID, &res.StepName, &status, &errMsg, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		res.Status = core.StepStatus(status)
		if errMsg.Valid {
			res.Error = &errMsg.String
		}
		if res.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if res.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, err
		}
		rec.Steps = append(rec.Steps, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListFilter narrows ListActivations. An empty ProfileID lists all profiles.
type ListFilter struct {
	ProfileID string
	Limit     int
	Offset    int
}

// ListActivations returns activations newest first, without step results.
func (s *Store) ListActivations(ctx context.Context, filter ListFilter) ([]*core.ActivationRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	query := `
		SELECT id, profile_id, profile_name, trigger_kind, status, steps_total, steps_failed, started_at, ended_at
		FROM activations`
	args := []any{}
	if filter.ProfileID != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, filter.ProfileID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()
	var out []*core.ActivationRecord
	for rows.Next() {
		rec, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PruneActivations removes activations of a profile beyond the retention limit.
func (s *Store) PruneActivations(ctx context.Context, profileID string) error {
	if s.Retention <= 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	stale := `
		SELECT id FROM activations
		WHERE profile_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM activation_steps WHERE activation_id IN (`+stale+`)`,
		profileID, s.Retention); err != nil {
		return fmt.Errorf("prune activation steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activations WHERE id IN (`+stale+`)`,
		profileID, s.Retention); err != nil {
		return fmt.Errorf("prune activations: %w", err)
	}
	return tx.Commit()
}

func scanActivation(scanner interface {
	Scan(dest ...any) error
}) (*core.ActivationRecord, error) {
	var (
		rec       core.ActivationRecord
		trigger   string
		status    string
		startedAt string
		endedAt   sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.ProfileID, &rec.ProfileName, &trigger, &status,
		&rec.StepsTotal, &rec.StepsFailed, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan activation: %w", err)
	}
	rec.Trigger = core.Trigger(trigger)
	rec.Status = core.ActivationStatus(status)
	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		rec.EndedAt = &t
	}
	return &rec, nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
