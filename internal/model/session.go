package model

import "time"

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSetup     Phase = "setup"
	PhaseActive    Phase = "active"
	PhaseBreak     Phase = "break"
	PhaseComplete  Phase = "complete"
	PhaseAbandoned Phase = "abandoned"
)

// Terminal reports whether the phase ends a focus session.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseAbandoned
}

const (
	MinFocusMinutes = 1
	MaxFocusMinutes = 120
	MinBreakMinutes = 1
	MaxBreakMinutes = 15

	DefaultFocusMinutes = 25
	DefaultBreakMinutes = 5
)

type SessionConfig struct {
	DurationMinutes int  `json:"durationMinutes"`
	DeepFocusMode   bool `json:"deepFocusMode"`
}

// ConfigUpdate is a partial SessionConfig; nil fields are left unchanged.
type ConfigUpdate struct {
	DurationMinutes *int  `json:"durationMinutes,omitempty"`
	DeepFocusMode   *bool `json:"deepFocusMode,omitempty"`
}

type SpotLocation struct {
	BuildingID string `json:"buildingId"`
	SpotID     string `json:"spotId"`
}

// ActiveSession is the running focus timer. RemainingSeconds is always
// derived from StartedAt and the clock.
type ActiveSession struct {
	StartedAt        time.Time `json:"startedAt"`
	DurationSeconds  int       `json:"durationSeconds"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

type BreakSession struct {
	StartedAt        time.Time `json:"startedAt"`
	DurationSeconds  int       `json:"durationSeconds"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

type CompletedSession struct {
	DurationSeconds int       `json:"durationSeconds"`
	CoinsEarned     int       `json:"coinsEarned"`
	TotalTimeToday  int       `json:"totalTimeToday"`
	CompletedAt     time.Time `json:"completedAt"`
}

type GroupSessionRef struct {
	GroupSessionID string `json:"groupSessionId,omitempty"`
	LobbyHostID    string `json:"lobbyHostId,omitempty"`
}

func (r GroupSessionRef) IsGroupSession() bool {
	return r.GroupSessionID != ""
}

// RemainingSeconds returns max(0, duration - elapsed since startedAt).
func RemainingSeconds(startedAt time.Time, durationSeconds int, now time.Time) int {
	elapsed := ElapsedSeconds(startedAt, now)
	remaining := durationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func ElapsedSeconds(startedAt, now time.Time) int {
	elapsed := int(now.Sub(startedAt).Seconds())
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
