package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	apperrors "focustown/backend/internal/errors"
	"focustown/backend/internal/engine"
	"focustown/backend/internal/groupstore"
	"focustown/backend/internal/groupsync"
	"focustown/backend/internal/model"
	"focustown/backend/internal/repository"
	"focustown/backend/internal/session"
	"focustown/backend/internal/timefmt"
)

const (
	eventBusSize = 64
	publishWait  = 2 * time.Second
	groupTimeout = 5 * time.Second
	historyLimit = 50
	maxHistory   = 200
	maxSceneName = 64
)

// Engines hands out the command channel to each user's game client.
type Engines interface {
	Commander(userID string) engine.Commander
	Connected(userID string) bool
}

type SessionOptions struct {
	CoinsPerMinute      float64
	TickInterval        time.Duration
	DefaultFocusMinutes int
	DefaultBreakMinutes int
}

// SessionService owns one session runtime per user: the session store, its
// ticker, the engine event bus and, while the user is in a group, the group
// sync loop.
type SessionService struct {
	userRepo     *repository.UserRepository
	settingsRepo *repository.SettingsRepository
	ledgerRepo   *repository.FocusSessionRepository
	groups       groupstore.Store
	engines      Engines
	opts         SessionOptions
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
}

type sessionRuntime struct {
	userID      string
	displayName string
	store       *session.Store
	bus         *engine.Bus
	ready       *engine.Readiness
	engine      engine.Commander

	mu    sync.Mutex
	group *groupRun
}

type groupRun struct {
	loop   *groupsync.Loop
	cancel context.CancelFunc
	done   chan struct{}
}

type StateView struct {
	session.State
	IsGroupSession    bool      `json:"isGroupSession"`
	DurationDisplay   string    `json:"durationDisplay"`
	RemainingDisplay  string    `json:"remainingDisplay,omitempty"`
	TotalTodayDisplay string    `json:"totalTodayDisplay,omitempty"`
	EngineConnected   bool      `json:"engineConnected"`
	ServerTime        time.Time `json:"serverTime"`
}

type HistoryView struct {
	Sessions          []model.FocusSessionRecord `json:"sessions"`
	FocusSecondsToday int                        `json:"focusSecondsToday"`
	FocusTodayDisplay string                     `json:"focusTodayDisplay"`
	TotalCoins        int                        `json:"totalCoins"`
}

type UpdateSettingsInput struct {
	BaseVersion   int
	FocusMinutes  int
	DeepFocusMode bool
	BreakMinutes  int
}

func NewSessionService(
	userRepo *repository.UserRepository,
	settingsRepo *repository.SettingsRepository,
	ledgerRepo *repository.FocusSessionRepository,
	groups groupstore.Store,
	engines Engines,
	opts SessionOptions,
) *SessionService {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		userRepo:     userRepo,
		settingsRepo: settingsRepo,
		ledgerRepo:   ledgerRepo,
		groups:       groups,
		engines:      engines,
		opts:         opts,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		runtimes:     make(map[string]*sessionRuntime),
	}
}

// Close stops every runtime and waits for their goroutines. Group loops run
// their cleanup before Close returns.
func (s *SessionService) Close() {
	s.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
	}
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.stopGroup()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *SessionService) GetState(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	return s.view(rt, rt.store.Tick()), nil
}

func (s *SessionService) UpdateConfig(ctx context.Context, userID string, update model.ConfigUpdate) (*StateView, *apperrors.APIError) {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	state, err := rt.store.UpdateConfig(update)
	switch {
	case errors.Is(err, session.ErrInvalidDuration):
		return nil, apperrors.BadRequest("invalid_duration", "duration must be between 1 and 120 minutes")
	case errors.Is(err, session.ErrConfigLocked):
		return nil, apperrors.Conflict("session_active", "config cannot change while a session is running", map[string]interface{}{
			"state": s.view(rt, state),
		})
	case err != nil:
		return nil, apperrors.Internal("failed to update config")
	}
	return s.view(rt, state), nil
}

func (s *SessionService) StartSession(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.StartSession() })
}

func (s *SessionService) CancelSetup(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State {
		before := rt.store.Snapshot()
		state := rt.store.CancelSetup()
		if before.Phase == model.PhaseSetup && state.Phase == model.PhaseIdle {
			if loop := rt.loop(); loop != nil {
				loop.SetLocalState(s.ctx, model.ParticipantEntrance, "")
			}
		}
		return state
	})
}

func (s *SessionService) EndSession(ctx context.Context, userID string, focusSeconds, coins int) (*StateView, *apperrors.APIError) {
	if focusSeconds < 0 || coins < 0 {
		return nil, apperrors.BadRequest("invalid_completion", "durationSeconds and coinsEarned must not be negative")
	}
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.EndSession(focusSeconds, coins) })
}

func (s *SessionService) RequestAbandon(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.RequestAbandonSession() })
}

func (s *SessionService) CancelAbandon(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.CancelAbandonSession() })
}

// ConfirmAbandon abandons the running session. Abandoning a group session
// fails the group for every participant.
func (s *SessionService) ConfirmAbandon(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State {
		before := rt.store.Snapshot()
		state := rt.store.ConfirmAbandonSession(false)
		if before.Phase == model.PhaseActive && state.Phase == model.PhaseAbandoned && state.Group.IsGroupSession() {
			s.setGroupStatus(state.Group.GroupSessionID, model.GroupStatusFailed)
		}
		return state
	})
}

func (s *SessionService) StartAnother(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.StartAnotherSession() })
}

func (s *SessionService) TakeBreak(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.TakeBreak() })
}

func (s *SessionService) SetBreakDuration(ctx context.Context, userID string, minutes int) (*StateView, *apperrors.APIError) {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	state, err := rt.store.SetBreakDuration(minutes)
	if err != nil {
		return nil, apperrors.BadRequest("invalid_break_duration", "break must be between 1 and 15 minutes")
	}
	return s.view(rt, state), nil
}

func (s *SessionService) StartBreak(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.StartBreak() })
}

func (s *SessionService) EndBreak(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.EndBreak() })
}

// GoHome leaves the café. It also ends the user's group sync loop.
func (s *SessionService) GoHome(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State {
		before := rt.store.Snapshot()
		state := rt.store.GoHome()
		if state.Phase != model.PhaseIdle {
			return state
		}
		if before.Phase == model.PhaseSetup {
			if loop := rt.loop(); loop != nil {
				loop.SetLocalState(s.ctx, model.ParticipantEntrance, "")
			}
		}
		rt.stopGroup()
		return state
	})
}

func (s *SessionService) GoHomeFromAbandoned(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State {
		state := rt.store.GoHomeFromAbandoned()
		if state.Phase == model.PhaseIdle {
			rt.stopGroup()
		}
		return state
	})
}

func (s *SessionService) ContinueFromAbandoned(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.act(ctx, userID, func(rt *sessionRuntime) session.State { return rt.store.ContinueFromAbandoned() })
}

// HandleEngineEvent queues an event reported by userID's game client. Events
// are applied in order by the runtime's single consumer.
func (s *SessionService) HandleEngineEvent(userID string, ev engine.Event) {
	rt, apiErr := s.runtimeFor(s.ctx, userID)
	if apiErr != nil {
		log.Printf("session: drop %s for user %s: %s", ev.Type, userID, apiErr.Message)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, publishWait)
	defer cancel()
	if err := rt.bus.Publish(ctx, ev); err != nil {
		log.Printf("session: drop %s for user %s: %v", ev.Type, userID, err)
	}
}

func (s *SessionService) ChangeScene(ctx context.Context, userID, scene string) *apperrors.APIError {
	if scene == "" || len(scene) > maxSceneName {
		return apperrors.BadRequest("invalid_scene", "scene name is required")
	}
	return s.send(ctx, userID, engine.ChangeScene(scene))
}

func (s *SessionService) SetCharacter(ctx context.Context, userID string, appearance engine.Appearance) *apperrors.APIError {
	if len(appearance) == 0 {
		return apperrors.BadRequest("invalid_character", "character appearance is required")
	}
	return s.send(ctx, userID, engine.SetUserCharacter(appearance))
}

func (s *SessionService) SwitchCamera(ctx context.Context, userID string, mode engine.CameraMode) *apperrors.APIError {
	if !mode.Valid() {
		return apperrors.BadRequest("invalid_camera", "camera must be one of overview, seated, setup, third_person, toggle")
	}
	return s.send(ctx, userID, engine.SwitchCamera(mode))
}

func (s *SessionService) GetHistory(ctx context.Context, userID string, limit int) (*HistoryView, *apperrors.APIError) {
	if limit <= 0 || limit > maxHistory {
		limit = historyLimit
	}
	sessions, err := s.ledgerRepo.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to get history")
	}

	tx, err := s.ledgerRepo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()
	totals, err := s.ledgerRepo.TotalsTx(ctx, tx, userID, startOfDay(s.now()))
	if err != nil {
		return nil, apperrors.Internal("failed to sum history")
	}

	return &HistoryView{
		Sessions:          sessions,
		FocusSecondsToday: totals.FocusSecondsToday,
		FocusTodayDisplay: timefmt.FormatDuration(totals.FocusSecondsToday),
		TotalCoins:        totals.TotalCoins,
	}, nil
}

func (s *SessionService) GetSettings(ctx context.Context, userID string) (*model.UserSettings, *apperrors.APIError) {
	settings, err := s.settingsRepo.Get(ctx, userID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("settings_not_found", "settings not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get settings")
	}
	return settings, nil
}

// UpdateSettings stores new per-user defaults. A running session keeps its
// config; the next fresh session uses the new defaults.
func (s *SessionService) UpdateSettings(ctx context.Context, userID string, input UpdateSettingsInput) (*model.UserSettings, *apperrors.APIError) {
	if input.FocusMinutes < model.MinFocusMinutes || input.FocusMinutes > model.MaxFocusMinutes {
		return nil, apperrors.BadRequest("invalid_duration", "focus minutes must be between 1 and 120")
	}
	if input.BreakMinutes < model.MinBreakMinutes || input.BreakMinutes > model.MaxBreakMinutes {
		return nil, apperrors.BadRequest("invalid_break_duration", "break minutes must be between 1 and 15")
	}

	tx, err := s.settingsRepo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	settings, err := s.settingsRepo.GetTx(ctx, tx, userID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("settings_not_found", "settings not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get settings")
	}
	if input.BaseVersion > 0 && input.BaseVersion != settings.Version {
		return nil, apperrors.Conflict("settings_conflict", "settings changed on another device", map[string]interface{}{
			"settings": settings,
		})
	}

	settings.FocusMinutes = input.FocusMinutes
	settings.DeepFocusMode = input.DeepFocusMode
	settings.BreakMinutes = input.BreakMinutes
	settings.Version++
	settings.UpdatedAt = s.now().UTC()
	if err := s.settingsRepo.UpdateTx(ctx, tx, settings); err != nil {
		return nil, apperrors.Internal("failed to update settings")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	if rt := s.existing(userID); rt != nil {
		rt.store.SetDefaults(model.SessionConfig{
			DurationMinutes: settings.FocusMinutes,
			DeepFocusMode:   settings.DeepFocusMode,
		}, settings.BreakMinutes)
	}
	return settings, nil
}

// AttachGroup points userID's session at a group and starts following the
// group document. A loop for another group is stopped first.
func (s *SessionService) AttachGroup(ctx context.Context, userID string, doc *model.GroupSession) *apperrors.APIError {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return apiErr
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.group != nil {
		if rt.group.loop.GroupID() == doc.ID {
			return nil
		}
		rt.group.stop()
		rt.group = nil
	}

	rt.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: doc.ID, LobbyHostID: doc.HostID})
	loop := groupsync.New(groupsync.Options{
		GroupID:     doc.ID,
		UserID:      userID,
		DisplayName: rt.displayName,
		Store:       s.groups,
		Engine:      rt.engine,
		Ready:       rt.ready,
		Session:     rt.store,
	})

	runCtx, cancel := context.WithCancel(s.ctx)
	run := &groupRun{loop: loop, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		if err := loop.Run(runCtx); err != nil {
			log.Printf("session: group loop for user %s: %v", userID, err)
		}
	}()
	rt.group = run

	snap := rt.store.Snapshot()
	if snap.Phase == model.PhaseSetup && snap.Spot != nil {
		loop.SetLocalState(ctx, model.ParticipantSeated, snap.Spot.SpotID)
	} else {
		loop.SetLocalState(ctx, model.ParticipantEntrance, "")
	}
	return nil
}

// DetachGroup stops following userID's group and clears the group reference
// unless a group session is running.
func (s *SessionService) DetachGroup(userID, groupID string) {
	rt := s.existing(userID)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	if rt.group == nil || rt.group.loop.GroupID() != groupID {
		rt.mu.Unlock()
		return
	}
	rt.group.stop()
	rt.group = nil
	rt.mu.Unlock()

	if rt.store.Snapshot().Group.GroupSessionID == groupID {
		rt.store.ClearGroupSession()
	}
}

func (s *SessionService) forceAbandon(userID string) {
	if rt := s.existing(userID); rt != nil {
		rt.store.ConfirmAbandonSession(true)
	}
}

func (s *SessionService) act(ctx context.Context, userID string, fn func(rt *sessionRuntime) session.State) (*StateView, *apperrors.APIError) {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	return s.view(rt, fn(rt)), nil
}

func (s *SessionService) send(ctx context.Context, userID string, cmd engine.Command) *apperrors.APIError {
	rt, apiErr := s.runtimeFor(ctx, userID)
	if apiErr != nil {
		return apiErr
	}
	rt.engine.Send(cmd)
	return nil
}

func (s *SessionService) existing(userID string) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimes[userID]
}

// runtimeFor returns userID's runtime, creating and starting it on first use.
func (s *SessionService) runtimeFor(ctx context.Context, userID string) (*sessionRuntime, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.runtimes[userID]; ok {
		return rt, nil
	}
	if s.ctx.Err() != nil {
		return nil, apperrors.Unavailable("shutting_down", "server is shutting down")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err == repository.ErrNotFound {
		return nil, apperrors.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to query user")
	}

	defaults := model.SessionConfig{DurationMinutes: s.opts.DefaultFocusMinutes}
	breakMinutes := s.opts.DefaultBreakMinutes
	settings, err := s.settingsRepo.Get(ctx, userID)
	switch {
	case err == nil:
		defaults = model.SessionConfig{DurationMinutes: settings.FocusMinutes, DeepFocusMode: settings.DeepFocusMode}
		breakMinutes = settings.BreakMinutes
	case err != repository.ErrNotFound:
		return nil, apperrors.Internal("failed to get settings")
	}

	commander := s.engines.Commander(userID)
	rt := &sessionRuntime{
		userID:      userID,
		displayName: user.DisplayName,
		bus:         engine.NewBus(eventBusSize),
		ready:       engine.NewReadiness(),
		engine:      commander,
	}
	rt.store = session.NewStore(session.Options{
		Now:            s.now,
		Engine:         commander,
		Ledger:         &focusLedger{repo: s.ledgerRepo, userID: userID},
		Telemetry:      logTelemetry{userID: userID},
		CoinsPerMinute: s.opts.CoinsPerMinute,
		Defaults:       defaults,
		BreakMinutes:   breakMinutes,
		Finished:       s.sessionFinished,
	})
	s.runtimes[userID] = rt

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		rt.store.Run(s.ctx, s.opts.TickInterval)
	}()
	go func() {
		defer s.wg.Done()
		rt.bus.Run(s.ctx, func(ev engine.Event) { s.handleEvent(rt, ev) })
	}()
	return rt, nil
}

func (s *SessionService) handleEvent(rt *sessionRuntime, ev engine.Event) {
	if ev.Type == engine.EventEngineReady {
		rt.ready.MarkReady()
		return
	}

	before := rt.store.Snapshot()
	state := rt.store.HandleEvent(ev)
	if ev.Type != engine.EventPlayerSeated || state.Phase != model.PhaseSetup || state.Spot == nil {
		return
	}
	if before.Spot != nil && *before.Spot == *state.Spot {
		return
	}
	if loop := rt.loop(); loop != nil {
		loop.SetLocalState(s.ctx, model.ParticipantSeated, state.Spot.SpotID)
	}
}

// sessionFinished marks the user's group completed when a group session
// finishes on the local clock. Participants still running complete from the
// group document.
func (s *SessionService) sessionFinished(out session.Outcome) {
	if out.Status == model.OutcomeCompleted && out.Group.IsGroupSession() {
		s.completeGroup(out.Group.GroupSessionID)
	}
}

func (s *SessionService) completeGroup(groupID string) {
	ctx, cancel := context.WithTimeout(s.ctx, groupTimeout)
	defer cancel()
	doc, err := s.groups.Get(ctx, groupID)
	if err != nil {
		log.Printf("session: load group %s: %v", groupID, err)
		return
	}
	if doc.Status != model.GroupStatusActive {
		return
	}
	if err := s.groups.SetStatus(ctx, groupID, model.GroupStatusCompleted); err != nil && !errors.Is(err, groupstore.ErrEnded) {
		log.Printf("session: complete group %s: %v", groupID, err)
	}
}

func (s *SessionService) setGroupStatus(groupID string, status model.GroupStatus) {
	ctx, cancel := context.WithTimeout(s.ctx, groupTimeout)
	defer cancel()
	if err := s.groups.SetStatus(ctx, groupID, status); err != nil && !errors.Is(err, groupstore.ErrEnded) {
		log.Printf("session: set group %s to %s: %v", groupID, status, err)
	}
}

func (s *SessionService) view(rt *sessionRuntime, state session.State) *StateView {
	view := &StateView{
		State:           state,
		IsGroupSession:  state.Group.IsGroupSession(),
		DurationDisplay: timefmt.FormatMinutesDisplay(state.Config.DurationMinutes),
		EngineConnected: s.engines.Connected(rt.userID),
		ServerTime:      s.now().UTC(),
	}
	switch {
	case state.Active != nil:
		view.RemainingDisplay = timefmt.FormatTime(state.Active.RemainingSeconds)
	case state.Break != nil:
		view.RemainingDisplay = timefmt.FormatTime(state.Break.RemainingSeconds)
	}
	if state.Completed != nil {
		view.TotalTodayDisplay = timefmt.FormatDuration(state.Completed.TotalTimeToday)
	}
	return view
}

func (rt *sessionRuntime) loop() *groupsync.Loop {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.group == nil {
		return nil
	}
	return rt.group.loop
}

func (rt *sessionRuntime) stopGroup() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.group != nil {
		rt.group.stop()
		rt.group = nil
	}
}

func (g *groupRun) stop() {
	g.cancel()
	<-g.done
}
