package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"focustown/backend/internal/model"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

func (r *SettingsRepository) CreateDefault(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO user_settings (user_id, focus_minutes, deep_focus_mode, break_minutes, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID,
		model.DefaultFocusMinutes,
		0,
		model.DefaultBreakMinutes,
		1,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("create default settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) Get(ctx context.Context, userID string) (*model.UserSettings, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT user_id, focus_minutes, deep_focus_mode, break_minutes, version, updated_at
		 FROM user_settings WHERE user_id = ?`,
		userID,
	)
	return scanSettings(row)
}

func (r *SettingsRepository) GetTx(ctx context.Context, tx *sql.Tx, userID string) (*model.UserSettings, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT user_id, focus_minutes, deep_focus_mode, break_minutes, version, updated_at
		 FROM user_settings WHERE user_id = ?`,
		userID,
	)
	return scanSettings(row)
}

func (r *SettingsRepository) UpdateTx(ctx context.Context, tx *sql.Tx, settings *model.UserSettings) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE user_settings
		 SET focus_minutes = ?,
		     deep_focus_mode = ?,
		     break_minutes = ?,
		     version = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		settings.FocusMinutes,
		boolToInt(settings.DeepFocusMode),
		settings.BreakMinutes,
		settings.Version,
		formatTime(settings.UpdatedAt),
		settings.UserID,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func scanSettings(s scanner) (*model.UserSettings, error) {
	settings := model.UserSettings{}
	var deepFocus int
	var updatedAt string
	err := s.Scan(
		&settings.UserID,
		&settings.FocusMinutes,
		&deepFocus,
		&settings.BreakMinutes,
		&settings.Version,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	settings.DeepFocusMode = deepFocus != 0

	parsedUpdatedAt, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse settings updated_at: %w", err)
	}
	settings.UpdatedAt = parsedUpdatedAt
	return &settings, nil
}
