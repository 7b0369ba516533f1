package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"focustown/backend/internal/engine"
	"focustown/backend/internal/engine/enginetest"
	"focustown/backend/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLedger struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (l *fakeLedger) Record(_ context.Context, o Outcome) (model.LedgerTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return model.LedgerTotals{}, l.err
	}
	l.outcomes = append(l.outcomes, o)
	totals := model.LedgerTotals{}
	for _, rec := range l.outcomes {
		if rec.Status == model.OutcomeCompleted {
			totals.FocusSecondsToday += rec.ActualSeconds
			totals.TotalCoins += rec.Coins
		}
	}
	return totals, nil
}

func (l *fakeLedger) count(status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

type fakeTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeTelemetry) Track(event string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeTelemetry) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	store     *Store
	clock     *fakeClock
	engine    *enginetest.Recorder
	ledger    *fakeLedger
	telemetry *fakeTelemetry
}

func newHarness(t *testing.T, coinsPerMinute float64) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		engine:    &enginetest.Recorder{},
		ledger:    &fakeLedger{},
		telemetry: &fakeTelemetry{},
	}
	h.store = NewStore(Options{
		Now:            h.clock.Now,
		Engine:         h.engine,
		Ledger:         h.ledger,
		Telemetry:      h.telemetry,
		CoinsPerMinute: coinsPerMinute,
		Defaults:       model.SessionConfig{DurationMinutes: 25},
		BreakMinutes:   5,
	})
	return h
}

func (h *harness) startSession(t *testing.T, minutes int) {
	t.Helper()
	h.store.PlayerSeated(model.SpotLocation{BuildingID: "cafe", SpotID: "table-1"})
	if _, err := h.store.UpdateConfig(model.ConfigUpdate{DurationMinutes: &minutes}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	state := h.store.StartSession()
	if state.Phase != model.PhaseActive {
		t.Fatalf("expected active after start, got %s", state.Phase)
	}
}

func TestFullDurationCompletesExactlyOnce(t *testing.T) {
	for minutes := model.MinFocusMinutes; minutes <= model.MaxFocusMinutes; minutes++ {
		h := newHarness(t, 1)
		h.startSession(t, minutes)

		h.clock.Advance(time.Duration(minutes*60-1) * time.Second)
		state := h.store.Tick()
		if state.Phase != model.PhaseActive || state.Active.RemainingSeconds != 1 {
			t.Fatalf("%d min: expected active with 1s left, got %s %+v", minutes, state.Phase, state.Active)
		}

		h.clock.Advance(time.Second)
		state = h.store.Tick()
		if state.Phase != model.PhaseComplete {
			t.Fatalf("%d min: expected complete, got %s", minutes, state.Phase)
		}
		if state.Completed.DurationSeconds != minutes*60 {
			t.Fatalf("%d min: expected %d seconds, got %d", minutes, minutes*60, state.Completed.DurationSeconds)
		}

		h.clock.Advance(time.Minute)
		h.store.Tick()
		h.store.EndSession(minutes*60, minutes)

		if n := h.ledger.count(model.OutcomeCompleted); n != 1 {
			t.Fatalf("%d min: expected one ledger entry, got %d", minutes, n)
		}
		if n := h.telemetry.count("session_complete"); n != 1 {
			t.Fatalf("%d min: expected one session_complete event, got %d", minutes, n)
		}
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)
	h.clock.Advance(25 * time.Minute)

	first := h.store.EndSession(1500, 25)
	second := h.store.EndSession(1500, 25)

	if first.Phase != model.PhaseComplete || second.Phase != model.PhaseComplete {
		t.Fatalf("expected complete twice, got %s and %s", first.Phase, second.Phase)
	}
	if *first.Completed != *second.Completed {
		t.Fatalf("completed session changed: %+v -> %+v", first.Completed, second.Completed)
	}
	if n := h.ledger.count(model.OutcomeCompleted); n != 1 {
		t.Fatalf("expected coins recorded once, got %d entries", n)
	}
	if second.Completed.TotalTimeToday != 1500 {
		t.Fatalf("expected total today 1500, got %d", second.Completed.TotalTimeToday)
	}
	if n := h.telemetry.count("session_complete"); n != 1 {
		t.Fatalf("expected analytics fired once, got %d", n)
	}
}

func TestRemainingIsRecomputedAfterGap(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	h.clock.Advance(10 * time.Minute)
	state := h.store.Tick()
	if state.Active.RemainingSeconds != 15*60 {
		t.Fatalf("expected 900s remaining after a 10 minute gap, got %d", state.Active.RemainingSeconds)
	}

	h.clock.Advance(7*time.Minute + 30*time.Second)
	state = h.store.Tick()
	if state.Active.RemainingSeconds != 450 {
		t.Fatalf("expected 450s remaining, got %d", state.Active.RemainingSeconds)
	}

	h.clock.Advance(2 * time.Hour)
	state = h.store.Tick()
	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete after a long gap, got %s", state.Phase)
	}
	if state.Completed.DurationSeconds != 1500 {
		t.Fatalf("expected duration capped at 1500, got %d", state.Completed.DurationSeconds)
	}
}

func TestRequestThenCancelAbandonKeepsActive(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	state := h.store.RequestAbandonSession()
	if !state.ShowingAbandonConfirm || state.Phase != model.PhaseActive {
		t.Fatalf("expected confirmation while active, got %+v", state)
	}

	state = h.store.CancelAbandonSession()
	if state.Phase != model.PhaseActive {
		t.Fatalf("expected active, got %s", state.Phase)
	}
	if state.ShowingAbandonConfirm {
		t.Fatal("expected confirm flag cleared")
	}
	if state.Active == nil {
		t.Fatal("expected active session retained")
	}
}

func TestRequestThenConfirmAbandon(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)
	h.clock.Advance(4 * time.Minute)

	h.store.RequestAbandonSession()
	state := h.store.ConfirmAbandonSession(false)

	if state.Phase != model.PhaseAbandoned {
		t.Fatalf("expected abandoned, got %s", state.Phase)
	}
	if state.Active != nil {
		t.Fatal("expected active session cleared")
	}
	if state.ShowingAbandonConfirm {
		t.Fatal("expected confirm flag cleared")
	}
	if n := len(h.engine.OfType(engine.CmdEndSession)); n != 1 {
		t.Fatalf("expected one end_session command, got %d", n)
	}
	if n := h.ledger.count(model.OutcomeAbandoned); n != 1 {
		t.Fatalf("expected abandoned outcome recorded, got %d", n)
	}
}

func TestConfirmWithoutRequestIsNoop(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	state := h.store.ConfirmAbandonSession(false)
	if state.Phase != model.PhaseActive {
		t.Fatalf("expected active, got %s", state.Phase)
	}
}

func TestForcedAbandonBypassesConfirmation(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	state := h.store.ConfirmAbandonSession(true)
	if state.Phase != model.PhaseAbandoned {
		t.Fatalf("expected abandoned, got %s", state.Phase)
	}
	if state.Active != nil {
		t.Fatal("expected active session cleared")
	}
}

func TestForcedAbandonIgnoredWhenTerminal(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 1)
	h.clock.Advance(time.Minute)
	h.store.Tick()

	state := h.store.ConfirmAbandonSession(true)
	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete to survive forced abandon, got %s", state.Phase)
	}
	if state.Completed == nil {
		t.Fatal("expected completed session retained")
	}
}

func TestForcedAbandonDuringSetupCancelsSetup(t *testing.T) {
	h := newHarness(t, 1)
	h.store.PlayerSeated(model.SpotLocation{SpotID: "table-2"})

	state := h.store.ConfirmAbandonSession(true)
	if state.Phase != model.PhaseAbandoned {
		t.Fatalf("expected abandoned, got %s", state.Phase)
	}
	if n := len(h.engine.OfType(engine.CmdCancelSetup)); n != 1 {
		t.Fatalf("expected cancel_setup command, got %d", n)
	}
	if n := h.ledger.count(model.OutcomeAbandoned); n != 0 {
		t.Fatalf("expected nothing recorded for setup, got %d", n)
	}
}

func TestTwentyMinuteScenarioCoins(t *testing.T) {
	h := newHarness(t, 1.5)
	h.startSession(t, 20)

	h.clock.Advance(1200 * time.Second)
	state := h.store.Tick()

	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.Completed.CoinsEarned != 30 {
		t.Fatalf("expected floor(20*1.5)=30 coins, got %d", state.Completed.CoinsEarned)
	}
}

func TestEngineCompletionUsesLocalClock(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 20)

	h.clock.Advance(1197 * time.Second)
	state := h.store.HandleEvent(engine.Event{Type: engine.EventSessionComplete, DurationSeconds: 1200, CoinsEarned: 99})

	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.Completed.DurationSeconds != 1200 {
		t.Fatalf("expected full 1200s within grace, got %d", state.Completed.DurationSeconds)
	}
	if state.Completed.CoinsEarned != 20 {
		t.Fatalf("expected locally computed 20 coins, got %d", state.Completed.CoinsEarned)
	}
	if n := len(h.engine.OfType(engine.CmdEndSession)); n != 1 {
		t.Fatalf("expected one end_session command, got %d", n)
	}
}

func TestRemoteCompletionEndsEarly(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g1", LobbyHostID: "u1"})
	h.startSession(t, 30)

	h.clock.Advance(10*time.Minute + 30*time.Second)
	state := h.store.EndGroupSession("g1", model.GroupStatusCompleted)

	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.Completed.DurationSeconds != 630 {
		t.Fatalf("expected 630s elapsed, got %d", state.Completed.DurationSeconds)
	}
	if state.Completed.CoinsEarned != 10 {
		t.Fatalf("expected 10 coins, got %d", state.Completed.CoinsEarned)
	}
	if state.Group.IsGroupSession() {
		t.Fatalf("expected group ref cleared, got %+v", state.Group)
	}
	if n := h.ledger.count(model.OutcomeCompleted); n != 1 {
		t.Fatalf("expected one completed record, got %d", n)
	}
}

func TestEndGroupSessionIgnoresOtherGroup(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g2", LobbyHostID: "u1"})
	h.startSession(t, 30)

	state := h.store.EndGroupSession("g1", model.GroupStatusFailed)
	if state.Phase != model.PhaseActive || state.Group.GroupSessionID != "g2" {
		t.Fatalf("expected untouched active g2 session, got %s %+v", state.Phase, state.Group)
	}

	state = h.store.EndGroupSession("g2", model.GroupStatusActive)
	if state.Phase != model.PhaseActive {
		t.Fatalf("expected active status to be ignored, got %s", state.Phase)
	}
}

func TestFailedGroupAbandonsAndClearsRef(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g1", LobbyHostID: "u1"})
	h.startSession(t, 30)
	h.clock.Advance(4 * time.Minute)

	state := h.store.EndGroupSession("g1", model.GroupStatusFailed)
	if state.Phase != model.PhaseAbandoned {
		t.Fatalf("expected abandoned, got %s", state.Phase)
	}
	if state.Group.IsGroupSession() {
		t.Fatalf("expected group ref cleared, got %+v", state.Group)
	}
	if n := h.ledger.count(model.OutcomeAbandoned); n != 1 {
		t.Fatalf("expected one abandoned record, got %d", n)
	}

	// A second end for the same group finds no ref and changes nothing.
	again := h.store.EndGroupSession("g1", model.GroupStatusFailed)
	if again.Phase != model.PhaseAbandoned || h.ledger.count(model.OutcomeAbandoned) != 1 {
		t.Fatalf("expected second end to be a no-op, got %s", again.Phase)
	}
}

func TestCompletedGroupAfterLocalCompletionClearsRef(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g1", LobbyHostID: "u1"})
	h.startSession(t, 25)
	h.clock.Advance(25 * time.Minute)
	h.store.Tick()

	state := h.store.EndGroupSession("g1", model.GroupStatusCompleted)
	if state.Phase != model.PhaseComplete || state.Group.IsGroupSession() {
		t.Fatalf("expected complete without group ref, got %s %+v", state.Phase, state.Group)
	}
	if n := h.ledger.count(model.OutcomeCompleted); n != 1 {
		t.Fatalf("expected exactly one completed record, got %d", n)
	}
}

func TestBreakReturnsToSetup(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)
	h.clock.Advance(25 * time.Minute)
	h.store.Tick()

	state := h.store.TakeBreak()
	if state.Phase != model.PhaseBreak || state.Break != nil {
		t.Fatalf("expected break setup, got %s %+v", state.Phase, state.Break)
	}

	state = h.store.StartBreak()
	if state.Break == nil || state.Break.DurationSeconds != 300 {
		t.Fatalf("expected 5 minute break, got %+v", state.Break)
	}

	h.clock.Advance(301 * time.Second)
	state = h.store.Tick()
	if state.Phase != model.PhaseSetup {
		t.Fatalf("expected setup after break, got %s", state.Phase)
	}
	if state.Break != nil {
		t.Fatal("expected break cleared")
	}
}

func TestBreakDurationBounds(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.store.SetBreakDuration(0); !errors.Is(err, ErrInvalidBreakDuration) {
		t.Fatalf("expected ErrInvalidBreakDuration for 0, got %v", err)
	}
	if _, err := h.store.SetBreakDuration(16); !errors.Is(err, ErrInvalidBreakDuration) {
		t.Fatalf("expected ErrInvalidBreakDuration for 16, got %v", err)
	}
	state, err := h.store.SetBreakDuration(15)
	if err != nil {
		t.Fatalf("set break 15: %v", err)
	}
	if state.BreakMinutes != 15 {
		t.Fatalf("expected 15, got %d", state.BreakMinutes)
	}
}

func TestEndBreakEarly(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 1)
	h.clock.Advance(time.Minute)
	h.store.Tick()
	h.store.TakeBreak()
	h.store.StartBreak()
	h.clock.Advance(time.Minute)

	state := h.store.EndBreak()
	if state.Phase != model.PhaseSetup || state.Break != nil {
		t.Fatalf("expected setup with no break, got %s %+v", state.Phase, state.Break)
	}
}

func TestStartAnotherResetsConfig(t *testing.T) {
	h := newHarness(t, 1)
	deep := true
	h.store.UpdateConfig(model.ConfigUpdate{DeepFocusMode: &deep})
	h.startSession(t, 45)
	h.clock.Advance(45 * time.Minute)
	h.store.Tick()

	state := h.store.StartAnotherSession()
	if state.Phase != model.PhaseSetup {
		t.Fatalf("expected setup, got %s", state.Phase)
	}
	if state.Config.DurationMinutes != 25 || state.Config.DeepFocusMode {
		t.Fatalf("expected default config, got %+v", state.Config)
	}
	if state.Completed != nil {
		t.Fatal("expected completed session cleared")
	}
}

func TestNextSessionIsSolo(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g1", LobbyHostID: "u1"})
	h.startSession(t, 25)
	h.clock.Advance(25 * time.Minute)
	h.store.Tick()

	state := h.store.StartAnotherSession()
	if state.Group.IsGroupSession() {
		t.Fatalf("expected solo session after start another, got %+v", state.Group)
	}

	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g2", LobbyHostID: "u1"})
	h.store.StartSession()
	h.store.ConfirmAbandonSession(true)
	state = h.store.ContinueFromAbandoned()
	if state.Group.IsGroupSession() {
		t.Fatalf("expected solo session after continue, got %+v", state.Group)
	}
}

func TestStartRequiresSetup(t *testing.T) {
	h := newHarness(t, 1)
	state := h.store.StartSession()
	if state.Phase != model.PhaseIdle {
		t.Fatalf("expected idle, got %s", state.Phase)
	}
	if n := len(h.engine.OfType(engine.CmdStartSession)); n != 0 {
		t.Fatalf("expected no start command, got %d", n)
	}
	if n := h.telemetry.count("session_start"); n != 0 {
		t.Fatalf("expected no session_start event, got %d", n)
	}
}

func TestCancelSetup(t *testing.T) {
	h := newHarness(t, 1)
	h.store.PlayerSeated(model.SpotLocation{SpotID: "table-4"})

	state := h.store.CancelSetup()
	if state.Phase != model.PhaseIdle || state.Spot != nil {
		t.Fatalf("expected idle without spot, got %s %+v", state.Phase, state.Spot)
	}
	if n := len(h.engine.OfType(engine.CmdCancelSetup)); n != 1 {
		t.Fatalf("expected cancel_setup, got %d", n)
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	h := newHarness(t, 1)

	for _, minutes := range []int{0, 121, -3} {
		m := minutes
		if _, err := h.store.UpdateConfig(model.ConfigUpdate{DurationMinutes: &m}); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("expected ErrInvalidDuration for %d, got %v", minutes, err)
		}
	}

	h.startSession(t, 30)
	m := 40
	if _, err := h.store.UpdateConfig(model.ConfigUpdate{DurationMinutes: &m}); !errors.Is(err, ErrConfigLocked) {
		t.Fatalf("expected ErrConfigLocked while active, got %v", err)
	}
}

func TestAbandonedExits(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetGroupSession(model.GroupSessionRef{GroupSessionID: "g1", LobbyHostID: "u1"})
	h.startSession(t, 25)
	h.store.ConfirmAbandonSession(true)

	state := h.store.ContinueFromAbandoned()
	if state.Phase != model.PhaseSetup {
		t.Fatalf("expected setup, got %s", state.Phase)
	}

	h.store.StartSession()
	h.store.ConfirmAbandonSession(true)
	state = h.store.GoHomeFromAbandoned()
	if state.Phase != model.PhaseIdle {
		t.Fatalf("expected idle, got %s", state.Phase)
	}
	if state.Spot != nil || state.Group.IsGroupSession() || state.Active != nil {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}

func TestGoHomeFromSetupCancelsSetup(t *testing.T) {
	h := newHarness(t, 1)
	h.store.PlayerSeated(model.SpotLocation{SpotID: "table-2"})

	state := h.store.GoHome()
	if state.Phase != model.PhaseIdle {
		t.Fatalf("expected idle, got %s", state.Phase)
	}
	if n := len(h.engine.OfType(engine.CmdCancelSetup)); n != 1 {
		t.Fatalf("expected cancel_setup, got %d", n)
	}
}

func TestGoHomeRefusedWhileActive(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	if state := h.store.GoHome(); state.Phase != model.PhaseActive {
		t.Fatalf("expected active, got %s", state.Phase)
	}
}

func TestGroupAutoStartSkipsSetup(t *testing.T) {
	h := newHarness(t, 1)

	state := h.store.StartGroupSession(45)
	if state.Phase != model.PhaseActive {
		t.Fatalf("expected active, got %s", state.Phase)
	}
	if state.Active.DurationSeconds != 45*60 {
		t.Fatalf("expected group duration, got %d", state.Active.DurationSeconds)
	}

	h.store.StartGroupSession(45)
	if n := len(h.engine.OfType(engine.CmdStartSession)); n != 1 {
		t.Fatalf("expected one start command, got %d", n)
	}
}

func TestLedgerFailureDoesNotBlockCompletion(t *testing.T) {
	h := newHarness(t, 1)
	h.ledger.err = errors.New("disk full")
	h.startSession(t, 10)
	h.clock.Advance(10 * time.Minute)

	state := h.store.Tick()
	if state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.Completed.TotalTimeToday != 600 {
		t.Fatalf("expected fallback total of 600, got %d", state.Completed.TotalTimeToday)
	}
}

func TestTapOutsideRequestsAbandon(t *testing.T) {
	h := newHarness(t, 1)
	h.startSession(t, 25)

	state := h.store.HandleEvent(engine.Event{Type: engine.EventTapOutsideDuringSession})
	if !state.ShowingAbandonConfirm {
		t.Fatal("expected abandon confirmation")
	}
}

func TestSubscribeDeliversLatest(t *testing.T) {
	h := newHarness(t, 1)
	updates, cancel := h.store.Subscribe()
	defer cancel()

	first := <-updates
	if first.Phase != model.PhaseIdle {
		t.Fatalf("expected initial idle snapshot, got %s", first.Phase)
	}

	h.store.PlayerSeated(model.SpotLocation{SpotID: "table-1"})
	h.store.StartSession()

	latest := <-updates
	if latest.Phase != model.PhaseActive {
		t.Fatalf("expected latest snapshot active, got %s", latest.Phase)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Fatal("expected channel closed after cancel")
	}
}

type blockingLedger struct {
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLedger) Record(_ context.Context, o Outcome) (model.LedgerTotals, error) {
	close(l.entered)
	<-l.release
	return model.LedgerTotals{FocusSecondsToday: o.ActualSeconds + 600}, nil
}

func TestLedgerRecordedOutsideLock(t *testing.T) {
	clock := newFakeClock()
	ledger := &blockingLedger{entered: make(chan struct{}), release: make(chan struct{})}
	finished := make(chan Outcome, 1)
	store := NewStore(Options{
		Now:            clock.Now,
		Engine:         &enginetest.Recorder{},
		Ledger:         ledger,
		CoinsPerMinute: 1,
		Defaults:       model.SessionConfig{DurationMinutes: 25},
		BreakMinutes:   5,
		Finished:       func(o Outcome) { finished <- o },
	})
	store.PlayerSeated(model.SpotLocation{SpotID: "table-1"})
	store.StartSession()
	clock.Advance(25 * time.Minute)

	done := make(chan State, 1)
	go func() { done <- store.Tick() }()
	<-ledger.entered

	if state := store.Snapshot(); state.Phase != model.PhaseComplete {
		t.Fatalf("expected complete while ledger is pending, got %s", state.Phase)
	}
	select {
	case <-finished:
		t.Fatal("finished hook ran before the outcome was recorded")
	default:
	}

	close(ledger.release)
	state := <-done
	if state.Completed.TotalTimeToday != 1500+600 {
		t.Fatalf("expected ledger total in snapshot, got %d", state.Completed.TotalTimeToday)
	}
	if got := store.Snapshot().Completed.TotalTimeToday; got != 2100 {
		t.Fatalf("expected ledger total in store, got %d", got)
	}
	out := <-finished
	if out.Status != model.OutcomeCompleted || out.ActualSeconds != 1500 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
