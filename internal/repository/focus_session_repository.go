package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"focustown/backend/internal/model"
)

// FocusSessionRepository is the ledger of finished focus sessions.
type FocusSessionRepository struct {
	db *sql.DB
}

func NewFocusSessionRepository(db *sql.DB) *FocusSessionRepository {
	return &FocusSessionRepository{db: db}
}

func (r *FocusSessionRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

func (r *FocusSessionRepository) InsertTx(ctx context.Context, tx *sql.Tx, rec *model.FocusSessionRecord) error {
	var groupID interface{}
	if rec.GroupSessionID != nil {
		groupID = *rec.GroupSessionID
	}

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO focus_sessions (
			id, user_id, group_session_id, status, planned_duration_seconds,
			actual_duration_seconds, coins_earned, deep_focus_mode,
			started_at, ended_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		groupID,
		rec.Status,
		rec.PlannedDurationSeconds,
		rec.ActualDurationSeconds,
		rec.CoinsEarned,
		boolToInt(rec.DeepFocusMode),
		formatTime(rec.StartedAt),
		formatTime(rec.EndedAt),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert focus session: %w", err)
	}
	return nil
}

// TotalsTx sums completed focus seconds since dayStart and lifetime coins.
func (r *FocusSessionRepository) TotalsTx(ctx context.Context, tx *sql.Tx, userID string, dayStart time.Time) (model.LedgerTotals, error) {
	var totals model.LedgerTotals
	err := tx.QueryRowContext(
		ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN ended_at >= ? THEN actual_duration_seconds ELSE 0 END), 0),
			COALESCE(SUM(coins_earned), 0)
		 FROM focus_sessions
		 WHERE user_id = ? AND status = ?`,
		formatTime(dayStart),
		userID,
		model.OutcomeCompleted,
	).Scan(&totals.FocusSecondsToday, &totals.TotalCoins)
	if err != nil {
		return model.LedgerTotals{}, fmt.Errorf("sum focus sessions: %w", err)
	}
	return totals, nil
}

func (r *FocusSessionRepository) ListSessions(ctx context.Context, userID string, limit int) ([]model.FocusSessionRecord, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, user_id, group_session_id, status, planned_duration_seconds,
		        actual_duration_seconds, coins_earned, deep_focus_mode,
		        started_at, ended_at, created_at
		 FROM focus_sessions
		 WHERE user_id = ?
		 ORDER BY ended_at DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list focus sessions: %w", err)
	}
	defer rows.Close()

	records := make([]model.FocusSessionRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanFocusSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate focus sessions: %w", err)
	}
	return records, nil
}

func scanFocusSession(s scanner) (*model.FocusSessionRecord, error) {
	rec := model.FocusSessionRecord{}
	var groupID sql.NullString
	var deepFocus int
	var startedAt, endedAt, createdAt string
	err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&groupID,
		&rec.Status,
		&rec.PlannedDurationSeconds,
		&rec.ActualDurationSeconds,
		&rec.CoinsEarned,
		&deepFocus,
		&startedAt,
		&endedAt,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan focus session: %w", err)
	}
	if groupID.Valid {
		value := groupID.String
		rec.GroupSessionID = &value
	}
	rec.DeepFocusMode = deepFocus != 0

	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse focus session started_at: %w", err)
	}
	if rec.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, fmt.Errorf("parse focus session ended_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse focus session created_at: %w", err)
	}
	return &rec, nil
}
