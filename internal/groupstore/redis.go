package groupstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"focustown/backend/internal/model"
)

const maxTxRetries = 8

// groupMeta is the part of the document owned by the host.
type groupMeta struct {
	ID                     string            `json:"id"`
	HostID                 string            `json:"hostId"`
	Status                 model.GroupStatus `json:"status"`
	PlannedDurationMinutes int               `json:"plannedDuration"`
	StartedAt              *time.Time        `json:"startedAt,omitempty"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	Version                int               `json:"version"`
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore keeps each group session in three keys: the meta JSON, a
// member set and a participant-state hash with one field per user, so a
// participant write never touches another participant's entry. Every write
// is announced on the group's events channel.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{
		client: client,
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
}

func (s *redisStore) metaKey(groupID string) string {
	return fmt.Sprintf("group:%s", groupID)
}

func (s *redisStore) membersKey(groupID string) string {
	return fmt.Sprintf("group:%s:members", groupID)
}

func (s *redisStore) participantsKey(groupID string) string {
	return fmt.Sprintf("group:%s:participants", groupID)
}

func (s *redisStore) eventsKey(groupID string) string {
	return fmt.Sprintf("group:%s:events", groupID)
}

func (s *redisStore) Create(ctx context.Context, doc *model.GroupSession) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	meta := groupMeta{
		ID:                     doc.ID,
		HostID:                 doc.HostID,
		Status:                 doc.Status,
		PlannedDurationMinutes: doc.PlannedDurationMinutes,
		StartedAt:              doc.StartedAt,
		UpdatedAt:              s.now().UTC(),
		Version:                1,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, s.metaKey(doc.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create group meta: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(doc.ParticipantIDs) > 0 {
			members := make([]interface{}, 0, len(doc.ParticipantIDs))
			for _, id := range doc.ParticipantIDs {
				members = append(members, id)
			}
			pipe.SAdd(ctx, s.membersKey(doc.ID), members...)
			pipe.Expire(ctx, s.membersKey(doc.ID), s.ttl)
		}
		for id, state := range doc.ParticipantStates {
			raw, err := json.Marshal(state)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.participantsKey(doc.ID), id, raw)
		}
		if len(doc.ParticipantStates) > 0 {
			pipe.Expire(ctx, s.participantsKey(doc.ID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create group members: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, groupID string) (*model.GroupSession, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.Get(ctx, s.metaKey(groupID))
	membersCmd := pipe.SMembers(ctx, s.membersKey(groupID))
	statesCmd := pipe.HGetAll(ctx, s.participantsKey(groupID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load group %s: %w", groupID, err)
	}

	raw, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group meta %s: %w", groupID, err)
	}
	var meta groupMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", model.ErrInvalidGroupSession, err)
	}

	members := membersCmd.Val()
	sort.Strings(members)

	states := make(map[string]model.ParticipantState)
	for id, rawState := range statesCmd.Val() {
		var state model.ParticipantState
		if err := json.Unmarshal([]byte(rawState), &state); err != nil || !state.State.Valid() {
			log.Printf("groupstore: skip malformed participant %s in group %s", id, groupID)
			continue
		}
		states[id] = state
	}

	doc := &model.GroupSession{
		ID:                     meta.ID,
		HostID:                 meta.HostID,
		Status:                 meta.Status,
		ParticipantIDs:         members,
		ParticipantStates:      states,
		PlannedDurationMinutes: meta.PlannedDurationMinutes,
		StartedAt:              meta.StartedAt,
		UpdatedAt:              meta.UpdatedAt,
		Version:                meta.Version,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *redisStore) Join(ctx context.Context, groupID, userID string) error {
	err := s.updateMeta(ctx, groupID, func(tx *redis.Tx, meta *groupMeta) error {
		isMember, err := tx.SIsMember(ctx, s.membersKey(groupID), userID).Result()
		if err != nil {
			return err
		}
		if isMember {
			return nil
		}
		if meta.Status != model.GroupStatusLobby {
			return ErrNotInLobby
		}
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, s.membersKey(groupID), userID)
		pipe.Expire(ctx, s.membersKey(groupID), s.ttl)
	})
	if err != nil {
		return err
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) Leave(ctx context.Context, groupID, userID string) error {
	exists, err := s.client.Exists(ctx, s.metaKey(groupID)).Result()
	if err != nil {
		return fmt.Errorf("leave group %s: %w", groupID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.membersKey(groupID), userID)
		pipe.HDel(ctx, s.participantsKey(groupID), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("leave group %s: %w", groupID, err)
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) UpdateParticipantState(ctx context.Context, groupID, userID string, state model.ParticipantState) error {
	isMember, err := s.client.SIsMember(ctx, s.membersKey(groupID), userID).Result()
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return ErrNotMember
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.participantsKey(groupID), userID, raw)
		pipe.Expire(ctx, s.participantsKey(groupID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update participant %s: %w", userID, err)
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) RemoveParticipantState(ctx context.Context, groupID, userID string) error {
	if err := s.client.HDel(ctx, s.participantsKey(groupID), userID).Err(); err != nil {
		return fmt.Errorf("remove participant %s: %w", userID, err)
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) Start(ctx context.Context, groupID, hostID string) error {
	err := s.updateMeta(ctx, groupID, func(_ *redis.Tx, meta *groupMeta) error {
		if meta.HostID != hostID {
			return ErrNotHost
		}
		if meta.Status == model.GroupStatusActive {
			return nil
		}
		if meta.Status != model.GroupStatusLobby {
			return ErrNotInLobby
		}
		now := s.now().UTC()
		meta.Status = model.GroupStatusActive
		meta.StartedAt = &now
		return nil
	}, nil)
	if err != nil {
		return err
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) SetStatus(ctx context.Context, groupID string, status model.GroupStatus) error {
	if !status.Valid() {
		return model.ErrInvalidGroupSession
	}
	err := s.updateMeta(ctx, groupID, func(_ *redis.Tx, meta *groupMeta) error {
		if meta.Status.Ended() && meta.Status != status {
			return ErrEnded
		}
		meta.Status = status
		return nil
	}, nil)
	if err != nil {
		return err
	}
	s.announce(ctx, groupID)
	return nil
}

func (s *redisStore) Subscribe(ctx context.Context, groupID string) (<-chan model.GroupSession, error) {
	pubsub := s.client.Subscribe(ctx, s.eventsKey(groupID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe group %s: %w", groupID, err)
	}

	doc, err := s.Get(ctx, groupID)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan model.GroupSession, 1)
	out <- *doc

	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				doc, err := s.Get(ctx, groupID)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("groupstore: reload group %s: %v", groupID, err)
					}
					continue
				}
				offerLatest(out, *doc)
			}
		}
	}()
	return out, nil
}

// updateMeta runs check against the current meta under WATCH and, if it
// passes, writes the meta back together with any extra commands.
func (s *redisStore) updateMeta(
	ctx context.Context,
	groupID string,
	check func(tx *redis.Tx, meta *groupMeta) error,
	extra func(pipe redis.Pipeliner),
) error {
	key := s.metaKey(groupID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var meta groupMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("%w: meta: %v", model.ErrInvalidGroupSession, err)
		}
		if err := check(tx, &meta); err != nil {
			return err
		}
		meta.Version++
		meta.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update group %s: too much contention", groupID)
}

func (s *redisStore) announce(ctx context.Context, groupID string) {
	if err := s.client.Publish(ctx, s.eventsKey(groupID), "changed").Err(); err != nil {
		log.Printf("groupstore: announce group %s: %v", groupID, err)
	}
}

func offerLatest(ch chan model.GroupSession, doc model.GroupSession) {
	select {
	case ch <- doc:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- doc:
	default:
	}
}
