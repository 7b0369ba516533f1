// Package session implements the focus-session lifecycle state machine.
//
// A Store owns the state of one user's session. Every action takes the store
// lock, so transitions are serialized; actions that are invalid for the
// current phase are no-ops that return the unchanged snapshot. The engine is
// commanded fire-and-forget and never blocks a transition.
package session

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"focustown/backend/internal/engine"
	"focustown/backend/internal/model"
)

var (
	ErrInvalidDuration      = errors.New("durationMinutes must be between 1 and 120")
	ErrInvalidBreakDuration = errors.New("break minutes must be between 1 and 15")
	ErrConfigLocked         = errors.New("session config cannot change while a session is active")
)

// completionGrace is how far the local clock may trail an engine-reported
// full-length completion and still count the session as full length.
const completionGrace = 5 * time.Second

const ledgerTimeout = 5 * time.Second

// Outcome is a finished session handed to the Ledger.
type Outcome struct {
	Status         string
	Config         model.SessionConfig
	Group          model.GroupSessionRef
	StartedAt      time.Time
	EndedAt        time.Time
	PlannedSeconds int
	ActualSeconds  int
	Coins          int
}

// Ledger persists outcomes and reports the user's running totals.
type Ledger interface {
	Record(ctx context.Context, outcome Outcome) (model.LedgerTotals, error)
}

// Telemetry receives fire-and-forget analytics events.
type Telemetry interface {
	Track(event string, props map[string]any)
}

type Options struct {
	Now            func() time.Time
	Engine         engine.Commander
	Ledger         Ledger
	Telemetry      Telemetry
	CoinsPerMinute float64
	Defaults       model.SessionConfig
	BreakMinutes   int
	// Finished is called with every outcome after it has been recorded. It
	// runs outside the store lock, on the goroutine that ended the session.
	Finished func(Outcome)
}

// State is a snapshot of the store. Pointer fields are owned by the snapshot.
type State struct {
	Phase                 model.Phase             `json:"phase"`
	Config                model.SessionConfig     `json:"config"`
	Spot                  *model.SpotLocation     `json:"spot,omitempty"`
	Active                *model.ActiveSession    `json:"activeSession,omitempty"`
	Completed             *model.CompletedSession `json:"completedSession,omitempty"`
	Break                 *model.BreakSession     `json:"breakSession,omitempty"`
	BreakMinutes          int                     `json:"breakMinutes"`
	ShowingAbandonConfirm bool                    `json:"showingAbandonConfirm"`
	Group                 model.GroupSessionRef   `json:"group"`
}

type Store struct {
	mu sync.Mutex

	now            func() time.Time
	engine         engine.Commander
	ledger         Ledger
	telemetry      Telemetry
	finished       func(Outcome)
	coinsPerMinute float64
	defaults       model.SessionConfig
	defaultBreak   int

	state State

	nextSubID int
	subs      map[int]chan State
}

func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Engine == nil {
		opts.Engine = engine.Discard
	}
	if opts.CoinsPerMinute <= 0 {
		opts.CoinsPerMinute = 1
	}
	if !validFocusMinutes(opts.Defaults.DurationMinutes) {
		opts.Defaults.DurationMinutes = model.DefaultFocusMinutes
	}
	if !validBreakMinutes(opts.BreakMinutes) {
		opts.BreakMinutes = model.DefaultBreakMinutes
	}

	s := &Store{
		now:            opts.Now,
		engine:         opts.Engine,
		ledger:         opts.Ledger,
		telemetry:      opts.Telemetry,
		finished:       opts.Finished,
		coinsPerMinute: opts.CoinsPerMinute,
		defaults:       opts.Defaults,
		defaultBreak:   opts.BreakMinutes,
		subs:           make(map[int]chan State),
	}
	s.state = State{
		Phase:        model.PhaseIdle,
		Config:       s.defaults,
		BreakMinutes: s.defaultBreak,
	}
	return s
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate states.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 1)
	ch <- s.snapshot()
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// SetDefaults replaces the config a fresh session starts from. An idle store
// adopts the new defaults immediately.
func (s *Store) SetDefaults(cfg model.SessionConfig, breakMinutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if validFocusMinutes(cfg.DurationMinutes) {
		s.defaults = cfg
	}
	if validBreakMinutes(breakMinutes) {
		s.defaultBreak = breakMinutes
	}
	if s.state.Phase == model.PhaseIdle {
		s.state.Config = s.defaults
		s.state.BreakMinutes = s.defaultBreak
		s.notify()
	}
}

func (s *Store) PlayerSeated(spot model.SpotLocation) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Phase {
	case model.PhaseIdle:
		s.state.Phase = model.PhaseSetup
	case model.PhaseSetup:
	default:
		return s.snapshot()
	}
	s.state.Spot = &spot
	s.notify()
	return s.snapshot()
}

func (s *Store) CancelSetup() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseSetup {
		return s.snapshot()
	}
	s.engine.Send(engine.CancelSetup())
	s.state.Phase = model.PhaseIdle
	s.state.Spot = nil
	s.notify()
	return s.snapshot()
}

func (s *Store) UpdateConfig(update model.ConfigUpdate) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == model.PhaseActive {
		return s.snapshot(), ErrConfigLocked
	}
	if update.DurationMinutes != nil && !validFocusMinutes(*update.DurationMinutes) {
		return s.snapshot(), ErrInvalidDuration
	}
	if update.DurationMinutes != nil {
		s.state.Config.DurationMinutes = *update.DurationMinutes
	}
	if update.DeepFocusMode != nil {
		s.state.Config.DeepFocusMode = *update.DeepFocusMode
	}
	s.notify()
	return s.snapshot(), nil
}

func (s *Store) StartSession() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseSetup {
		return s.snapshot()
	}
	s.activate(false)
	return s.snapshot()
}

// StartGroupSession moves straight to active with the group's agreed
// duration, skipping setup. Used when every participant is seated.
func (s *Store) StartGroupSession(durationMinutes int) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseIdle && s.state.Phase != model.PhaseSetup {
		return s.snapshot()
	}
	if validFocusMinutes(durationMinutes) {
		s.state.Config.DurationMinutes = durationMinutes
	}
	s.activate(true)
	return s.snapshot()
}

func (s *Store) activate(auto bool) {
	now := s.now()
	duration := s.state.Config.DurationMinutes * 60
	s.state.Phase = model.PhaseActive
	s.state.Active = &model.ActiveSession{
		StartedAt:        now,
		DurationSeconds:  duration,
		RemainingSeconds: duration,
	}
	s.state.Completed = nil
	s.state.ShowingAbandonConfirm = false
	s.engine.Send(engine.StartSession())
	s.track("session_start", map[string]any{
		"durationMinutes": s.state.Config.DurationMinutes,
		"deepFocusMode":   s.state.Config.DeepFocusMode,
		"group":           s.state.Group.IsGroupSession(),
		"autoStart":       auto,
	})
	s.notify()
}

// EndSession completes the active session. focusSeconds and coinsEarned are
// what the engine reported; the local clock stays authoritative. Calling it
// again once complete changes nothing.
func (s *Store) EndSession(focusSeconds, coinsEarned int) State {
	return s.transition(func() *Outcome {
		if s.state.Phase != model.PhaseActive {
			return nil
		}
		return s.complete(s.now(), focusSeconds, coinsEarned)
	})
}

// complete moves the active session to complete. TotalTimeToday starts as
// the session's own length and is replaced by the ledger total once the
// outcome is recorded.
func (s *Store) complete(now time.Time, reportedSeconds, reportedCoins int) *Outcome {
	active := s.state.Active
	elapsed := model.ElapsedSeconds(active.StartedAt, now)
	if elapsed > active.DurationSeconds {
		elapsed = active.DurationSeconds
	}
	actual := elapsed
	if reportedSeconds >= active.DurationSeconds &&
		time.Duration(active.DurationSeconds-elapsed)*time.Second <= completionGrace {
		actual = active.DurationSeconds
	}
	coins := s.coinsFor(actual)
	if reportedCoins > 0 && reportedCoins != coins {
		log.Printf("session: engine reported %d coins, awarding %d", reportedCoins, coins)
	}

	out := s.outcome(model.OutcomeCompleted, active, now, actual, coins)
	s.engine.Send(engine.EndSession())
	s.state.Phase = model.PhaseComplete
	s.state.Active = nil
	s.state.ShowingAbandonConfirm = false
	s.state.Completed = &model.CompletedSession{
		DurationSeconds: actual,
		CoinsEarned:     coins,
		TotalTimeToday:  actual,
		CompletedAt:     now,
	}
	s.track("session_complete", map[string]any{
		"durationSeconds": actual,
		"coinsEarned":     coins,
		"group":           s.state.Group.IsGroupSession(),
	})
	s.notify()
	return &out
}

func (s *Store) coinsFor(seconds int) int {
	return int(math.Floor(float64(seconds) / 60 * s.coinsPerMinute))
}

func (s *Store) RequestAbandonSession() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseActive || s.state.ShowingAbandonConfirm {
		return s.snapshot()
	}
	s.state.ShowingAbandonConfirm = true
	s.notify()
	return s.snapshot()
}

func (s *Store) CancelAbandonSession() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.ShowingAbandonConfirm {
		return s.snapshot()
	}
	s.state.ShowingAbandonConfirm = false
	s.notify()
	return s.snapshot()
}

// ConfirmAbandonSession abandons the session. Without forced it requires the
// confirmation overlay to be showing. forced skips the overlay and also
// applies during setup; it is a no-op once the session is terminal.
func (s *Store) ConfirmAbandonSession(forced bool) State {
	return s.transition(func() *Outcome { return s.abandon(forced) })
}

func (s *Store) abandon(forced bool) *Outcome {
	switch {
	case forced && (s.state.Phase == model.PhaseActive || s.state.Phase == model.PhaseSetup):
	case !forced && s.state.Phase == model.PhaseActive && s.state.ShowingAbandonConfirm:
	default:
		return nil
	}

	var out *Outcome
	now := s.now()
	if active := s.state.Active; active != nil {
		actual := model.ElapsedSeconds(active.StartedAt, now)
		if actual > active.DurationSeconds {
			actual = active.DurationSeconds
		}
		o := s.outcome(model.OutcomeAbandoned, active, now, actual, 0)
		out = &o
		s.engine.Send(engine.EndSession())
	} else {
		s.engine.Send(engine.CancelSetup())
	}

	s.state.Phase = model.PhaseAbandoned
	s.state.Active = nil
	s.state.ShowingAbandonConfirm = false
	s.track("session_abandon", map[string]any{
		"forced": forced,
		"group":  s.state.Group.IsGroupSession(),
	})
	s.notify()
	return out
}

func (s *Store) StartAnotherSession() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseComplete {
		return s.snapshot()
	}
	s.state.Phase = model.PhaseSetup
	s.state.Completed = nil
	s.state.Config = s.defaults
	s.state.Group = model.GroupSessionRef{}
	s.notify()
	return s.snapshot()
}

func (s *Store) TakeBreak() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseComplete {
		return s.snapshot()
	}
	s.state.Phase = model.PhaseBreak
	s.state.Completed = nil
	s.state.Break = nil
	s.notify()
	return s.snapshot()
}

func (s *Store) SetBreakDuration(minutes int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validBreakMinutes(minutes) {
		return s.snapshot(), ErrInvalidBreakDuration
	}
	s.state.BreakMinutes = minutes
	s.notify()
	return s.snapshot(), nil
}

func (s *Store) StartBreak() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseBreak || s.state.Break != nil {
		return s.snapshot()
	}
	duration := s.state.BreakMinutes * 60
	s.state.Break = &model.BreakSession{
		StartedAt:        s.now(),
		DurationSeconds:  duration,
		RemainingSeconds: duration,
	}
	s.track("break_start", map[string]any{"durationMinutes": s.state.BreakMinutes})
	s.notify()
	return s.snapshot()
}

func (s *Store) EndBreak() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseBreak {
		return s.snapshot()
	}
	s.endBreak()
	return s.snapshot()
}

func (s *Store) endBreak() {
	s.track("break_end", map[string]any{"started": s.state.Break != nil})
	s.state.Phase = model.PhaseSetup
	s.state.Break = nil
	s.notify()
}

// GoHome leaves the café from any phase that has no running focus session.
func (s *Store) GoHome() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Phase {
	case model.PhaseActive, model.PhaseAbandoned:
		return s.snapshot()
	case model.PhaseSetup:
		s.engine.Send(engine.CancelSetup())
	}
	s.reset()
	return s.snapshot()
}

func (s *Store) GoHomeFromAbandoned() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseAbandoned {
		return s.snapshot()
	}
	s.reset()
	return s.snapshot()
}

func (s *Store) ContinueFromAbandoned() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != model.PhaseAbandoned {
		return s.snapshot()
	}
	s.state.Phase = model.PhaseSetup
	s.state.Group = model.GroupSessionRef{}
	s.notify()
	return s.snapshot()
}

func (s *Store) reset() {
	s.state = State{
		Phase:        model.PhaseIdle,
		Config:       s.defaults,
		BreakMinutes: s.defaultBreak,
	}
	s.notify()
}

func (s *Store) SetGroupSession(ref model.GroupSessionRef) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Group = ref
	s.notify()
	return s.snapshot()
}

func (s *Store) ClearGroupSession() State {
	return s.SetGroupSession(model.GroupSessionRef{})
}

// EndGroupSession applies the end of group groupID, if the session still
// follows it. A failed or cancelled group forces abandonment; a completed
// group ends an active session. The group reference is cleared either way.
func (s *Store) EndGroupSession(groupID string, status model.GroupStatus) State {
	return s.transition(func() *Outcome {
		if groupID == "" || s.state.Group.GroupSessionID != groupID || !status.Ended() {
			return nil
		}
		var out *Outcome
		if status == model.GroupStatusCompleted {
			if s.state.Phase == model.PhaseActive {
				out = s.complete(s.now(), 0, 0)
			}
		} else {
			out = s.abandon(true)
		}
		s.state.Group = model.GroupSessionRef{}
		s.notify()
		return out
	})
}

// HandleEvent applies an event reported by the engine.
func (s *Store) HandleEvent(ev engine.Event) State {
	switch ev.Type {
	case engine.EventPlayerSeated:
		if ev.Spot != nil {
			return s.PlayerSeated(*ev.Spot)
		}
	case engine.EventSessionComplete:
		return s.EndSession(ev.DurationSeconds, ev.CoinsEarned)
	case engine.EventTapOutsideDuringSession:
		return s.RequestAbandonSession()
	case engine.EventEntranceCinematicFinished:
		s.mu.Lock()
		s.track("entrance_cinematic_finished", nil)
		s.mu.Unlock()
	}
	return s.Snapshot()
}

// Tick recomputes the running timers from their start times and fires the
// transitions for any timer that has run out.
func (s *Store) Tick() State {
	return s.transition(func() *Outcome {
		now := s.now()
		switch s.state.Phase {
		case model.PhaseActive:
			active := s.state.Active
			active.RemainingSeconds = model.RemainingSeconds(active.StartedAt, active.DurationSeconds, now)
			if active.RemainingSeconds == 0 {
				return s.complete(now, active.DurationSeconds, 0)
			}
			s.notify()
		case model.PhaseBreak:
			if b := s.state.Break; b != nil {
				b.RemainingSeconds = model.RemainingSeconds(b.StartedAt, b.DurationSeconds, now)
				if b.RemainingSeconds == 0 {
					s.endBreak()
				} else {
					s.notify()
				}
			}
		}
		return nil
	})
}

// Run ticks the store every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// transition runs fn under the store lock. An outcome returned by fn is
// recorded after the lock is released, so ticks and reads for this user are
// never held up by the ledger.
func (s *Store) transition(fn func() *Outcome) State {
	s.mu.Lock()
	out := fn()
	snap := s.snapshot()
	s.mu.Unlock()

	if out == nil {
		return snap
	}
	return s.finish(*out, snap)
}

func (s *Store) finish(out Outcome, snap State) State {
	totals, err := s.record(out)
	if err != nil {
		log.Printf("session: record %s session: %v", out.Status, err)
	} else if out.Status == model.OutcomeCompleted {
		s.mu.Lock()
		if c := s.state.Completed; c != nil && c.CompletedAt.Equal(out.EndedAt) {
			c.TotalTimeToday = totals.FocusSecondsToday
			s.notify()
		}
		s.mu.Unlock()
		if c := snap.Completed; c != nil && c.CompletedAt.Equal(out.EndedAt) {
			c.TotalTimeToday = totals.FocusSecondsToday
		}
	}

	if s.finished != nil {
		s.finished(out)
	}
	return snap
}

func (s *Store) outcome(status string, active *model.ActiveSession, now time.Time, actual, coins int) Outcome {
	return Outcome{
		Status:         status,
		Config:         s.state.Config,
		Group:          s.state.Group,
		StartedAt:      active.StartedAt,
		EndedAt:        now,
		PlannedSeconds: active.DurationSeconds,
		ActualSeconds:  actual,
		Coins:          coins,
	}
}

func (s *Store) record(out Outcome) (model.LedgerTotals, error) {
	if s.ledger == nil {
		return model.LedgerTotals{FocusSecondsToday: out.ActualSeconds}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	return s.ledger.Record(ctx, out)
}

func (s *Store) track(event string, props map[string]any) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.Track(event, props)
}

func (s *Store) notify() {
	snap := s.snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshot() State {
	out := s.state
	if s.state.Spot != nil {
		spot := *s.state.Spot
		out.Spot = &spot
	}
	if s.state.Active != nil {
		active := *s.state.Active
		out.Active = &active
	}
	if s.state.Completed != nil {
		completed := *s.state.Completed
		out.Completed = &completed
	}
	if s.state.Break != nil {
		b := *s.state.Break
		out.Break = &b
	}
	return out
}

func validFocusMinutes(m int) bool {
	return m >= model.MinFocusMinutes && m <= model.MaxFocusMinutes
}

func validBreakMinutes(m int) bool {
	return m >= model.MinBreakMinutes && m <= model.MaxBreakMinutes
}
