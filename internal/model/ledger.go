package model

import "time"

const (
	OutcomeCompleted = "completed"
	OutcomeAbandoned = "abandoned"
)

// FocusSessionRecord is one finished session in the ledger.
type FocusSessionRecord struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"userId"`
	GroupSessionID         *string   `json:"groupSessionId,omitempty"`
	Status                 string    `json:"status"`
	PlannedDurationSeconds int       `json:"plannedDurationSeconds"`
	ActualDurationSeconds  int       `json:"actualDurationSeconds"`
	CoinsEarned            int       `json:"coinsEarned"`
	DeepFocusMode          bool      `json:"deepFocusMode"`
	StartedAt              time.Time `json:"startedAt"`
	EndedAt                time.Time `json:"endedAt"`
	CreatedAt              time.Time `json:"createdAt"`
}

type LedgerTotals struct {
	FocusSecondsToday int `json:"focusSecondsToday"`
	TotalCoins        int `json:"totalCoins"`
}
