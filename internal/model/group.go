package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type GroupStatus string

const (
	GroupStatusLobby     GroupStatus = "lobby"
	GroupStatusActive    GroupStatus = "active"
	GroupStatusCompleted GroupStatus = "completed"
	GroupStatusCancelled GroupStatus = "cancelled"
	GroupStatusFailed    GroupStatus = "failed"
)

func (s GroupStatus) Valid() bool {
	switch s {
	case GroupStatusLobby, GroupStatusActive, GroupStatusCompleted, GroupStatusCancelled, GroupStatusFailed:
		return true
	}
	return false
}

// Ended reports whether no further session can run under this status.
func (s GroupStatus) Ended() bool {
	return s == GroupStatusCompleted || s == GroupStatusCancelled || s == GroupStatusFailed
}

type ParticipantStatus string

const (
	ParticipantEntrance ParticipantStatus = "entrance"
	ParticipantSeated   ParticipantStatus = "seated"
)

func (s ParticipantStatus) Valid() bool {
	return s == ParticipantEntrance || s == ParticipantSeated
}

// ParticipantState is one user's entry in a group session document. Each
// client writes only its own entry.
type ParticipantState struct {
	DisplayName string            `json:"displayName"`
	State       ParticipantStatus `json:"state"`
	SpotID      string            `json:"spotId,omitempty"`
}

// GroupSession is the shared remote document coordinating a multi-user
// focus session.
type GroupSession struct {
	ID                     string                      `json:"id"`
	HostID                 string                      `json:"hostId"`
	Status                 GroupStatus                 `json:"status"`
	ParticipantIDs         []string                    `json:"participantIds"`
	ParticipantStates      map[string]ParticipantState `json:"participantStates"`
	PlannedDurationMinutes int                         `json:"plannedDuration"`
	StartedAt              *time.Time                  `json:"startedAt,omitempty"`
	UpdatedAt              time.Time                   `json:"updatedAt"`
	Version                int                         `json:"version"`
}

var ErrInvalidGroupSession = errors.New("invalid group session document")

// Validate checks the document against its schema.
func (g *GroupSession) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidGroupSession)
	}
	if g.HostID == "" {
		return fmt.Errorf("%w: missing hostId", ErrInvalidGroupSession)
	}
	if !g.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidGroupSession, g.Status)
	}
	if g.PlannedDurationMinutes < MinFocusMinutes || g.PlannedDurationMinutes > MaxFocusMinutes {
		return fmt.Errorf("%w: plannedDuration %d out of range", ErrInvalidGroupSession, g.PlannedDurationMinutes)
	}
	seen := make(map[string]struct{}, len(g.ParticipantIDs))
	for _, id := range g.ParticipantIDs {
		if id == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidGroupSession)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidGroupSession, id)
		}
		seen[id] = struct{}{}
	}
	for id, state := range g.ParticipantStates {
		if id == "" {
			return fmt.Errorf("%w: empty participant state key", ErrInvalidGroupSession)
		}
		if !state.State.Valid() {
			return fmt.Errorf("%w: participant %s has state %q", ErrInvalidGroupSession, id, state.State)
		}
	}
	return nil
}

// ParseGroupSession decodes and validates a raw document.
func ParseGroupSession(raw []byte) (*GroupSession, error) {
	var doc GroupSession
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroupSession, err)
	}
	if doc.ParticipantStates == nil {
		doc.ParticipantStates = make(map[string]ParticipantState)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// AllSeated reports whether every listed participant has a seated entry.
// A document with no participants is never all seated.
func (g *GroupSession) AllSeated() bool {
	if len(g.ParticipantIDs) == 0 {
		return false
	}
	for _, id := range g.ParticipantIDs {
		state, ok := g.ParticipantStates[id]
		if !ok || state.State != ParticipantSeated {
			return false
		}
	}
	return true
}

func (g *GroupSession) HasParticipant(userID string) bool {
	for _, id := range g.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (g *GroupSession) Clone() GroupSession {
	out := *g
	out.ParticipantIDs = append([]string(nil), g.ParticipantIDs...)
	out.ParticipantStates = make(map[string]ParticipantState, len(g.ParticipantStates))
	for id, state := range g.ParticipantStates {
		out.ParticipantStates[id] = state
	}
	if g.StartedAt != nil {
		startedAt := *g.StartedAt
		out.StartedAt = &startedAt
	}
	return out
}
