// Package groupstore is the shared document store that coordinates group
// focus sessions across devices.
package groupstore

import (
	"context"
	"errors"

	"focustown/backend/internal/model"
)

var (
	ErrNotFound      = errors.New("group session not found")
	ErrNotHost       = errors.New("only the host can do that")
	ErrNotInLobby    = errors.New("group session is not in the lobby")
	ErrNotMember     = errors.New("user is not a participant")
	ErrAlreadyExists = errors.New("group session already exists")
	ErrEnded         = errors.New("group session has already ended")
)

// Store is the remote group-session document store. Each participant writes
// only its own participant entry; every writer can read the whole document.
type Store interface {
	Create(ctx context.Context, doc *model.GroupSession) error
	Get(ctx context.Context, groupID string) (*model.GroupSession, error)
	// Join adds userID to the participant list of a lobby.
	Join(ctx context.Context, groupID, userID string) error
	// Leave removes userID from the participant list and its entry.
	Leave(ctx context.Context, groupID, userID string) error
	UpdateParticipantState(ctx context.Context, groupID, userID string, state model.ParticipantState) error
	RemoveParticipantState(ctx context.Context, groupID, userID string) error
	// Start moves a lobby to active. Only the host may start.
	Start(ctx context.Context, groupID, hostID string) error
	// SetStatus changes the group status. An ended group keeps its status:
	// setting the same status again is a no-op and anything else is ErrEnded.
	SetStatus(ctx context.Context, groupID string, status model.GroupStatus) error
	// Subscribe streams the document: the current snapshot first, then one
	// snapshot per change. The channel closes when ctx is done.
	Subscribe(ctx context.Context, groupID string) (<-chan model.GroupSession, error)
}
