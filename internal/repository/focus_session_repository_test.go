package repository

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"focustown/backend/internal/db"
	"focustown/backend/internal/model"
)

func openTestDB(t *testing.T) (*UserRepository, *SettingsRepository, *FocusSessionRepository) {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve test file path")
	}
	migrationsDir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if _, err := db.RunMigrations(database, migrationsDir); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewUserRepository(database), NewSettingsRepository(database), NewFocusSessionRepository(database)
}

func TestLedgerTotalsAndHistory(t *testing.T) {
	users, settings, ledger := openTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	user := &model.User{ID: "u1", Email: "a@b.c", DisplayName: "Ada", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := settings.CreateDefault(ctx, user.ID); err != nil {
		t.Fatalf("create settings: %v", err)
	}

	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	groupID := "g1"
	records := []model.FocusSessionRecord{
		{ID: "yesterday", Status: model.OutcomeCompleted, ActualDurationSeconds: 600, CoinsEarned: 10, EndedAt: dayStart.Add(-time.Minute)},
		{ID: "morning", Status: model.OutcomeCompleted, ActualDurationSeconds: 1500, CoinsEarned: 25, EndedAt: dayStart.Add(9 * time.Hour)},
		{ID: "abandoned", Status: model.OutcomeAbandoned, ActualDurationSeconds: 300, EndedAt: dayStart.Add(10 * time.Hour), GroupSessionID: &groupID},
	}

	tx, err := ledger.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	for i := range records {
		rec := records[i]
		rec.UserID = user.ID
		rec.PlannedDurationSeconds = 1500
		rec.StartedAt = rec.EndedAt.Add(-time.Duration(rec.ActualDurationSeconds) * time.Second)
		rec.CreatedAt = rec.EndedAt
		if err := ledger.InsertTx(ctx, tx, &rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}
	totals, err := ledger.TotalsTx(ctx, tx, user.ID, dayStart)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if totals.FocusSecondsToday != 1500 {
		t.Fatalf("expected 1500 focus seconds today, got %d", totals.FocusSecondsToday)
	}
	if totals.TotalCoins != 35 {
		t.Fatalf("expected 35 lifetime coins, got %d", totals.TotalCoins)
	}

	history, err := ledger.ListSessions(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 3 || history[0].ID != "abandoned" {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if history[0].GroupSessionID == nil || *history[0].GroupSessionID != "g1" {
		t.Fatal("expected group id round trip")
	}
}

func TestSettingsUpdate(t *testing.T) {
	users, settings, _ := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := users.Create(ctx, &model.User{ID: "u1", Email: "a@b.c", DisplayName: "Ada", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := settings.Get(ctx, "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before defaults, got %v", err)
	}
	if err := settings.CreateDefault(ctx, "u1"); err != nil {
		t.Fatalf("create settings: %v", err)
	}

	tx, err := settings.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	current, err := settings.GetTx(ctx, tx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.FocusMinutes != model.DefaultFocusMinutes || current.Version != 1 {
		t.Fatalf("unexpected defaults: %+v", current)
	}
	current.FocusMinutes = 50
	current.DeepFocusMode = true
	current.Version++
	if err := settings.UpdateTx(ctx, tx, current); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := settings.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FocusMinutes != 50 || !got.DeepFocusMode || got.Version != 2 {
		t.Fatalf("unexpected settings: %+v", got)
	}

	user, err := users.GetByEmail(ctx, "a@b.c")
	if err != nil || user.DisplayName != "Ada" {
		t.Fatalf("expected user lookup, got %+v %v", user, err)
	}
	if _, err := users.GetByID(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
