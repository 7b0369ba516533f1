// Package groupsync mirrors a shared group-session document into the local
// engine and session store.
//
// A Loop diffs every snapshot of the document against the participants it
// has already rendered: newcomers are spawned (or buffered until the engine
// is ready), changed participants are updated in place, and departed ones
// are removed. When every participant is seated the local session starts on
// its own, once per Loop. A failed or cancelled group forces the local
// session into abandoned.
package groupsync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"focustown/backend/internal/engine"
	"focustown/backend/internal/groupstore"
	"focustown/backend/internal/model"
	"focustown/backend/internal/session"
)

const writeTimeout = 5 * time.Second

// Session is the part of the session store the loop drives.
type Session interface {
	StartGroupSession(durationMinutes int) session.State
	EndGroupSession(groupID string, status model.GroupStatus) session.State
}

type Options struct {
	GroupID     string
	UserID      string
	DisplayName string
	Store       groupstore.Store
	Engine      engine.Commander
	Ready       *engine.Readiness
	Session     Session
}

type Loop struct {
	groupID     string
	userID      string
	displayName string
	store       groupstore.Store
	engine      engine.Commander
	ready       *engine.Readiness
	session     Session

	// Owned by the Run goroutine.
	known       map[string]model.ParticipantState
	pending     map[string]model.ParticipantState
	autoStarted bool
	ended       bool
}

func New(opts Options) *Loop {
	if opts.Engine == nil {
		opts.Engine = engine.Discard
	}
	if opts.Ready == nil {
		opts.Ready = engine.NewReadiness()
		opts.Ready.MarkReady()
	}
	return &Loop{
		groupID:     opts.GroupID,
		userID:      opts.UserID,
		displayName: opts.DisplayName,
		store:       opts.Store,
		engine:      opts.Engine,
		ready:       opts.Ready,
		session:     opts.Session,
		known:       make(map[string]model.ParticipantState),
		pending:     make(map[string]model.ParticipantState),
	}
}

func (l *Loop) GroupID() string { return l.groupID }

// Run follows the group document until ctx is done. On return it always
// removes the local participant entry and every remote avatar, and drops the
// subscription.
func (l *Loop) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer l.cleanup()

	updates, err := l.store.Subscribe(subCtx, l.groupID)
	if err != nil {
		return fmt.Errorf("subscribe to group %s: %w", l.groupID, err)
	}

	ready := l.ready.Ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ready:
			l.flushPending()
			ready = nil
		case doc, ok := <-updates:
			if !ok {
				return nil
			}
			l.apply(ctx, doc)
		}
	}
}

// SetLocalState writes the local user's participant entry. Failures are
// logged and otherwise ignored.
func (l *Loop) SetLocalState(ctx context.Context, status model.ParticipantStatus, spotID string) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := l.store.UpdateParticipantState(ctx, l.groupID, l.userID, model.ParticipantState{
		DisplayName: l.displayName,
		State:       status,
		SpotID:      spotID,
	})
	if err != nil {
		log.Printf("groupsync: write %s state for %s in %s: %v", status, l.userID, l.groupID, err)
	}
}

func (l *Loop) apply(ctx context.Context, doc model.GroupSession) {
	if err := doc.Validate(); err != nil {
		log.Printf("groupsync: ignore snapshot of %s: %v", l.groupID, err)
		return
	}

	l.syncParticipants(doc)

	if doc.Status.Ended() {
		if !l.ended {
			l.ended = true
			l.session.EndGroupSession(l.groupID, doc.Status)
		}
		return
	}

	if l.autoStarted || !doc.HasParticipant(l.userID) || !doc.AllSeated() {
		return
	}
	l.autoStarted = true
	if doc.Status == model.GroupStatusLobby && doc.HostID == l.userID {
		l.startRemote(ctx)
	}
	l.session.StartGroupSession(doc.PlannedDurationMinutes)
}

func (l *Loop) syncParticipants(doc model.GroupSession) {
	remote := make(map[string]model.ParticipantState, len(doc.ParticipantStates))
	for id, state := range doc.ParticipantStates {
		if id != l.userID {
			remote[id] = state
		}
	}

	ready := l.ready.IsReady()
	for _, id := range sortedIDs(remote) {
		state := remote[id]
		if prev, ok := l.known[id]; ok {
			if prev != state {
				l.engine.Send(engine.UpdateRemotePlayer(id, state))
				l.known[id] = state
			}
			continue
		}
		if !ready {
			l.pending[id] = state
			continue
		}
		delete(l.pending, id)
		l.engine.Send(engine.SpawnRemotePlayer(id, state))
		l.known[id] = state
	}

	for id := range l.known {
		if _, ok := remote[id]; !ok {
			l.engine.Send(engine.RemoveRemotePlayer(id))
			delete(l.known, id)
		}
	}
	for id := range l.pending {
		if _, ok := remote[id]; !ok {
			delete(l.pending, id)
		}
	}
}

func (l *Loop) flushPending() {
	for _, id := range sortedIDs(l.pending) {
		state := l.pending[id]
		l.engine.Send(engine.SpawnRemotePlayer(id, state))
		l.known[id] = state
	}
	l.pending = make(map[string]model.ParticipantState)
}

func (l *Loop) startRemote(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := l.store.Start(ctx, l.groupID, l.userID); err != nil {
		log.Printf("groupsync: start group %s: %v", l.groupID, err)
	}
}

func (l *Loop) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.store.RemoveParticipantState(ctx, l.groupID, l.userID); err != nil {
		log.Printf("groupsync: remove %s from %s: %v", l.userID, l.groupID, err)
	}

	for _, id := range sortedIDs(l.known) {
		l.engine.Send(engine.RemoveRemotePlayer(id))
	}
	l.known = make(map[string]model.ParticipantState)
	l.pending = make(map[string]model.ParticipantState)
}

func sortedIDs(m map[string]model.ParticipantState) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
