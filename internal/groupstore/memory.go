package groupstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"focustown/backend/internal/model"
)

type memoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	docs      map[string]*model.GroupSession
	nextSubID int
	subs      map[string]map[int]chan model.GroupSession
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{
		now:  time.Now,
		docs: make(map[string]*model.GroupSession),
		subs: make(map[string]map[int]chan model.GroupSession),
	}
}

func (s *memoryStore) Create(_ context.Context, doc *model.GroupSession) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return ErrAlreadyExists
	}
	stored := doc.Clone()
	if stored.ParticipantStates == nil {
		stored.ParticipantStates = make(map[string]model.ParticipantState)
	}
	stored.UpdatedAt = s.now().UTC()
	stored.Version = 1
	s.docs[doc.ID] = &stored
	return nil
}

func (s *memoryStore) Get(_ context.Context, groupID string) (*model.GroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (s *memoryStore) Join(_ context.Context, groupID, userID string) error {
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		if doc.HasParticipant(userID) {
			return nil
		}
		if doc.Status != model.GroupStatusLobby {
			return ErrNotInLobby
		}
		doc.ParticipantIDs = append(doc.ParticipantIDs, userID)
		sort.Strings(doc.ParticipantIDs)
		return nil
	})
}

func (s *memoryStore) Leave(_ context.Context, groupID, userID string) error {
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		ids := doc.ParticipantIDs[:0]
		for _, id := range doc.ParticipantIDs {
			if id != userID {
				ids = append(ids, id)
			}
		}
		doc.ParticipantIDs = ids
		delete(doc.ParticipantStates, userID)
		return nil
	})
}

func (s *memoryStore) UpdateParticipantState(_ context.Context, groupID, userID string, state model.ParticipantState) error {
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		if !doc.HasParticipant(userID) {
			return ErrNotMember
		}
		doc.ParticipantStates[userID] = state
		return nil
	})
}

func (s *memoryStore) RemoveParticipantState(_ context.Context, groupID, userID string) error {
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		delete(doc.ParticipantStates, userID)
		return nil
	})
}

func (s *memoryStore) Start(_ context.Context, groupID, hostID string) error {
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		if doc.HostID != hostID {
			return ErrNotHost
		}
		if doc.Status == model.GroupStatusActive {
			return nil
		}
		if doc.Status != model.GroupStatusLobby {
			return ErrNotInLobby
		}
		now := s.now().UTC()
		doc.Status = model.GroupStatusActive
		doc.StartedAt = &now
		return nil
	})
}

func (s *memoryStore) SetStatus(_ context.Context, groupID string, status model.GroupStatus) error {
	if !status.Valid() {
		return model.ErrInvalidGroupSession
	}
	return s.mutate(groupID, func(doc *model.GroupSession) error {
		if doc.Status.Ended() && doc.Status != status {
			return ErrEnded
		}
		doc.Status = status
		return nil
	})
}

func (s *memoryStore) Subscribe(ctx context.Context, groupID string) (<-chan model.GroupSession, error) {
	s.mu.Lock()
	doc, ok := s.docs[groupID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan model.GroupSession, 1)
	ch <- doc.Clone()
	if s.subs[groupID] == nil {
		s.subs[groupID] = make(map[int]chan model.GroupSession)
	}
	s.subs[groupID][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[groupID][id]; ok {
			delete(s.subs[groupID], id)
			close(sub)
		}
	}()
	return ch, nil
}

func (s *memoryStore) mutate(groupID string, fn func(doc *model.GroupSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[groupID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = s.now().UTC()
	doc.Version++
	s.publish(doc)
	return nil
}

func (s *memoryStore) publish(doc *model.GroupSession) {
	for _, ch := range s.subs[doc.ID] {
		offerLatest(ch, doc.Clone())
	}
}
