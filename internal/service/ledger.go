package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"focustown/backend/internal/model"
	"focustown/backend/internal/repository"
	"focustown/backend/internal/session"
)

// focusLedger records one user's session outcomes in the focus_sessions
// table and reports the running totals back to the session store.
type focusLedger struct {
	repo   *repository.FocusSessionRepository
	userID string
}

func (l *focusLedger) Record(ctx context.Context, o session.Outcome) (model.LedgerTotals, error) {
	rec := model.FocusSessionRecord{
		ID:                     uuid.NewString(),
		UserID:                 l.userID,
		Status:                 o.Status,
		PlannedDurationSeconds: o.PlannedSeconds,
		ActualDurationSeconds:  o.ActualSeconds,
		CoinsEarned:            o.Coins,
		DeepFocusMode:          o.Config.DeepFocusMode,
		StartedAt:              o.StartedAt,
		EndedAt:                o.EndedAt,
		CreatedAt:              time.Now().UTC(),
	}
	if o.Group.IsGroupSession() {
		groupID := o.Group.GroupSessionID
		rec.GroupSessionID = &groupID
	}

	tx, err := l.repo.BeginTx(ctx)
	if err != nil {
		return model.LedgerTotals{}, err
	}
	defer tx.Rollback()

	if err := l.repo.InsertTx(ctx, tx, &rec); err != nil {
		return model.LedgerTotals{}, err
	}
	totals, err := l.repo.TotalsTx(ctx, tx, l.userID, startOfDay(o.EndedAt))
	if err != nil {
		return model.LedgerTotals{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.LedgerTotals{}, fmt.Errorf("commit focus session: %w", err)
	}
	return totals, nil
}

func startOfDay(t time.Time) time.Time {
	local := t.In(time.Local)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
