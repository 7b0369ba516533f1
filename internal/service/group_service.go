package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "focustown/backend/internal/errors"
	"focustown/backend/internal/groupstore"
	"focustown/backend/internal/model"
)

// GroupService manages group-session lobbies. Joining a lobby attaches the
// caller's session runtime to the group document.
type GroupService struct {
	groups   groupstore.Store
	sessions *SessionService
	now      func() time.Time
}

func NewGroupService(groups groupstore.Store, sessions *SessionService) *GroupService {
	return &GroupService{
		groups:   groups,
		sessions: sessions,
		now:      time.Now,
	}
}

func (s *GroupService) Create(ctx context.Context, hostID string, durationMinutes int) (*model.GroupSession, *apperrors.APIError) {
	if durationMinutes < model.MinFocusMinutes || durationMinutes > model.MaxFocusMinutes {
		return nil, apperrors.BadRequest("invalid_duration", "duration must be between 1 and 120 minutes")
	}

	doc := &model.GroupSession{
		ID:                     uuid.NewString(),
		HostID:                 hostID,
		Status:                 model.GroupStatusLobby,
		ParticipantIDs:         []string{hostID},
		PlannedDurationMinutes: durationMinutes,
		UpdatedAt:              s.now().UTC(),
	}
	if err := s.groups.Create(ctx, doc); err != nil {
		return nil, groupError(err)
	}
	if apiErr := s.sessions.AttachGroup(ctx, hostID, doc); apiErr != nil {
		return nil, apiErr
	}
	return s.Get(ctx, hostID, doc.ID)
}

func (s *GroupService) Get(ctx context.Context, userID, groupID string) (*model.GroupSession, *apperrors.APIError) {
	doc, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, groupError(err)
	}
	if !doc.HasParticipant(userID) && doc.Status != model.GroupStatusLobby {
		return nil, apperrors.Forbidden("not a participant of this group session")
	}
	return doc, nil
}

func (s *GroupService) Join(ctx context.Context, userID, groupID string) (*model.GroupSession, *apperrors.APIError) {
	if err := s.groups.Join(ctx, groupID, userID); err != nil {
		return nil, groupError(err)
	}
	doc, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, groupError(err)
	}
	if apiErr := s.sessions.AttachGroup(ctx, userID, doc); apiErr != nil {
		return nil, apiErr
	}
	return s.Get(ctx, userID, groupID)
}

// Leave removes the caller from the lobby. Leaving a running group session
// fails it for everyone, the same as abandoning it.
func (s *GroupService) Leave(ctx context.Context, userID, groupID string) *apperrors.APIError {
	doc, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return groupError(err)
	}
	if !doc.HasParticipant(userID) {
		return groupError(groupstore.ErrNotMember)
	}

	if doc.Status == model.GroupStatusActive {
		s.sessions.forceAbandon(userID)
	}
	s.sessions.DetachGroup(userID, groupID)
	if err := s.groups.Leave(ctx, groupID, userID); err != nil {
		return groupError(err)
	}
	if doc.Status == model.GroupStatusActive {
		err := s.groups.SetStatus(ctx, groupID, model.GroupStatusFailed)
		if err != nil && !errors.Is(err, groupstore.ErrEnded) {
			return groupError(err)
		}
	}
	return nil
}

// Start opens the group session before everyone is seated. Only the host may
// start, and only from the lobby.
func (s *GroupService) Start(ctx context.Context, userID, groupID string) (*model.GroupSession, *apperrors.APIError) {
	if err := s.groups.Start(ctx, groupID, userID); err != nil {
		return nil, groupError(err)
	}
	return s.Get(ctx, userID, groupID)
}

func (s *GroupService) Cancel(ctx context.Context, userID, groupID string) (*model.GroupSession, *apperrors.APIError) {
	doc, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, groupError(err)
	}
	if doc.HostID != userID {
		return nil, groupError(groupstore.ErrNotHost)
	}
	if doc.Status.Ended() {
		return doc, nil
	}
	if err := s.groups.SetStatus(ctx, groupID, model.GroupStatusCancelled); err != nil {
		return nil, groupError(err)
	}
	return s.Get(ctx, userID, groupID)
}

func groupError(err error) *apperrors.APIError {
	switch {
	case errors.Is(err, groupstore.ErrNotFound):
		return apperrors.NotFound("group_not_found", "group session not found")
	case errors.Is(err, groupstore.ErrNotHost):
		return apperrors.Forbidden("only the host can do that")
	case errors.Is(err, groupstore.ErrNotInLobby):
		return apperrors.Conflict("group_not_in_lobby", "group session is no longer in the lobby", nil)
	case errors.Is(err, groupstore.ErrNotMember):
		return apperrors.Forbidden("not a participant of this group session")
	case errors.Is(err, groupstore.ErrAlreadyExists):
		return apperrors.Conflict("group_exists", "group session already exists", nil)
	case errors.Is(err, groupstore.ErrEnded):
		return apperrors.Conflict("group_ended", "group session has already ended", nil)
	case errors.Is(err, model.ErrInvalidGroupSession):
		return apperrors.BadRequest("invalid_group_session", err.Error())
	default:
		return apperrors.Internal("group store unavailable")
	}
}
