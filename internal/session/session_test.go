package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/internal/engine"
	"github.com/dulceopicante/quiz-client/internal/fetch"
	"github.com/dulceopicante/quiz-client/internal/notify"
	"github.com/dulceopicante/quiz-client/pkg/types"
)

type submission struct {
	participantID int
	round         int
	choice        string
}

// fakeFetcher serves canned snapshots and records which resources were
// fetched. With blockStatus set, RoundStatus calls park until the test
// releases them, so response interleaving can be forced.
type fakeFetcher struct {
	mu          sync.Mutex
	calls       chan string
	roster      []types.Participant
	round       int
	status      types.RoundStatus
	pool        []string
	reveal      bool
	capacity    bool
	registerErr error
	blockStatus bool
	statusQueue []chan types.RoundStatus
	submitted   chan submission
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:     make(chan string, 128),
		roster:    []types.Participant{},
		pool:      []string{},
		reveal:    true,
		submitted: make(chan submission, 16),
	}
}

func (f *fakeFetcher) record(name string) { f.calls <- name }

func (f *fakeFetcher) Roster(context.Context) ([]types.Participant, error) {
	f.record("roster")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roster, nil
}

func (f *fakeFetcher) Round(context.Context) (int, error) {
	f.record("round")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round, nil
}

func (f *fakeFetcher) RoundStatus(context.Context) (types.RoundStatus, error) {
	f.record("status")
	f.mu.Lock()
	if f.blockStatus {
		ch := make(chan types.RoundStatus)
		f.statusQueue = append(f.statusQueue, ch)
		f.mu.Unlock()
		return <-ch, nil
	}
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeFetcher) AnswerPool(context.Context) ([]string, error) {
	f.record("pool")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pool, nil
}

func (f *fakeFetcher) RevealBank(context.Context) (bool, error) {
	f.record("reveal")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reveal, nil
}

func (f *fakeFetcher) CapacityReached(context.Context) (bool, error) {
	f.record("capacity")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity, nil
}

func (f *fakeFetcher) Register(_ context.Context, name string) (types.Participant, error) {
	f.record("register")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return types.Participant{}, f.registerErr
	}
	return types.Participant{ID: 1, Name: name, Answers: []string{}}, nil
}

func (f *fakeFetcher) SubmitAnswer(_ context.Context, participantID, round int, choice string) error {
	f.record("submit")
	f.submitted <- submission{participantID: participantID, round: round, choice: choice}
	return nil
}

func (f *fakeFetcher) setStatus(status types.RoundStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// helpers

func expectCalls(t *testing.T, ch <-chan string, want ...string) {
	t.Helper()
	got := make([]string, 0, len(want))
	for range want {
		select {
		case call := <-ch:
			got = append(got, call)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out: want calls %v, got %v so far", want, got)
		}
	}
	sort.Strings(got)
	sorted := append([]string(nil), want...)
	sort.Strings(sorted)
	for i := range sorted {
		if got[i] != sorted[i] {
			t.Fatalf("want calls %v, got %v", sorted, got)
		}
	}
}

func expectNoCall(t *testing.T, ch <-chan string, within time.Duration) {
	t.Helper()
	select {
	case call := <-ch:
		t.Fatalf("expected no fetch, but %q was issued", call)
	case <-time.After(within):
	}
}

func getView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func waitView(t *testing.T, s *Session, desc string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := getView(t, s)
		if cond(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for view condition: %s; last view %+v", desc, getView(t, s))
	return View{} // unreachable
}

func sendAndWait(t *testing.T, s *Session, name string) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- RegisterRequest{Name: name, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for register reply")
		return nil // unreachable
	}
}

func chooseAndWait(t *testing.T, s *Session, choice string) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- ChooseAnswer{Choice: choice, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for choose reply")
		return nil // unreachable
	}
}

func newTestSession(t *testing.T, f *fakeFetcher) (*Session, chan notify.Event, *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	notifications := make(chan notify.Event, 16)
	clk := clockwork.NewFakeClock()
	s := New(ctx, f, notifications, clk, zap.NewNop())
	t.Cleanup(func() { s.Inbox() <- Shutdown{} })
	return s, notifications, clk
}

func TestTriggerTable(t *testing.T) {
	fullSet := []string{"roster", "round", "status", "pool", "reveal", "capacity"}

	cases := []struct {
		name string
		kind notify.Kind
		want []string
	}{
		{name: "user count changed", kind: notify.KindUserCount, want: fullSet},
		{name: "round count changed", kind: notify.KindRoundCount, want: []string{"round", "status"}},
		{name: "answer bank changed", kind: notify.KindAnswerBank, want: []string{"reveal", "pool"}},
		{name: "connected before registration", kind: notify.KindConnected, want: []string{"capacity"}},
		{name: "unknown kind", kind: notify.Kind("Bogus"), want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeFetcher()
			s, notifications, _ := newTestSession(t, f)

			notifications <- notify.Event{Kind: tc.kind}

			if len(tc.want) > 0 {
				expectCalls(t, f.calls, tc.want...)
			}
			expectNoCall(t, f.calls, 100*time.Millisecond)
			_ = s
		})
	}
}

func TestConnected_AfterRegistrationResyncsEverything(t *testing.T) {
	f := newFakeFetcher()
	s, notifications, _ := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Drain the register call and the post-registration resync.
	expectCalls(t, f.calls, "register", "roster", "round", "status", "pool", "reveal", "capacity")

	notifications <- notify.Event{Kind: notify.KindConnected}
	expectCalls(t, f.calls, "roster", "round", "status", "pool", "reveal", "capacity")
	expectNoCall(t, f.calls, 100*time.Millisecond)
}

func TestRegister_Success(t *testing.T) {
	f := newFakeFetcher()
	s, _, _ := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	v := waitView(t, s, "registered", func(v View) bool { return v.State.Registered() })
	if v.State.Phase != engine.PhaseAwaitingRound {
		t.Fatalf("want awaiting-round, got %v", v.State.Phase)
	}
	if v.State.Self.Name != "Alice" {
		t.Fatalf("want self Alice, got %+v", v.State.Self)
	}

	// A second registration attempt is a contract violation.
	if err := sendAndWait(t, s, "Alice"); !errors.Is(err, engine.ErrAlreadyRegistered) {
		t.Fatalf("want ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegister_CapacityReached(t *testing.T) {
	f := newFakeFetcher()
	f.registerErr = fetch.ErrCapacityReached
	s, _, _ := newTestSession(t, f)

	if err := sendAndWait(t, s, "Late"); !errors.Is(err, fetch.ErrCapacityReached) {
		t.Fatalf("want ErrCapacityReached, got %v", err)
	}

	v := waitView(t, s, "capacity phase", func(v View) bool { return v.State.Phase == engine.PhaseCapacityReached })
	if v.State.Self != nil {
		t.Fatalf("self must stay absent, got %+v", v.State.Self)
	}
}

func TestRoundLifecycle_LocalCountdown(t *testing.T) {
	f := newFakeFetcher()
	f.setStatus(types.RoundStatus{Active: true, SecondsRemaining: 3})
	s, _, clk := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	waitView(t, s, "round active", func(v View) bool {
		return v.State.Phase == engine.PhaseRoundActive && v.State.SecondsRemaining == 3
	})

	// Choosing mid-round submits to the authority.
	if err := chooseAndWait(t, s, engine.ChoiceSweet); err != nil {
		t.Fatalf("choose: %v", err)
	}
	select {
	case sub := <-f.submitted:
		if sub.participantID != 1 || sub.round != 0 || sub.choice != engine.ChoiceSweet {
			t.Fatalf("unexpected submission %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for submission")
	}

	// Each local tick decrements without touching the server.
	clk.BlockUntil(1)
	clk.Advance(time.Second)
	waitView(t, s, "2s left", func(v View) bool { return v.State.SecondsRemaining == 2 })

	clk.Advance(time.Second)
	waitView(t, s, "1s left", func(v View) bool { return v.State.SecondsRemaining == 1 })

	// The final tick ends the round locally.
	clk.Advance(time.Second)
	v := waitView(t, s, "round over", func(v View) bool { return v.State.Phase == engine.PhaseAwaitingRound })
	if v.State.RoundActive || v.State.SecondsRemaining != 0 {
		t.Fatalf("round should be over: %+v", v.State)
	}
	if v.State.SelfSelection != engine.ChoiceSweet {
		t.Fatalf("selection must survive until the next round, got %q", v.State.SelfSelection)
	}
}

func TestZeroSecondStatus_NeverActivatesRound(t *testing.T) {
	f := newFakeFetcher()
	f.setStatus(types.RoundStatus{Active: true, SecondsRemaining: 0})
	s, _, clk := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Drain the register call and the post-registration resync so the status
	// result has been applied by the time we look.
	expectCalls(t, f.calls, "register", "roster", "round", "status", "pool", "reveal", "capacity")
	time.Sleep(100 * time.Millisecond)

	// A few local seconds pass; with no armed countdown nothing may change.
	clk.BlockUntil(1)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
	}
	time.Sleep(100 * time.Millisecond)

	v := getView(t, s)
	if v.State.RoundActive || v.State.Phase != engine.PhaseAwaitingRound {
		t.Fatalf("zero-second status must not arm a round: %+v", v.State)
	}
	if v.State.SecondsRemaining != 0 {
		t.Fatalf("want 0 seconds remaining, got %d", v.State.SecondsRemaining)
	}
}

func TestSelectionCleared_WhenNextRoundStarts(t *testing.T) {
	f := newFakeFetcher()
	f.setStatus(types.RoundStatus{Active: true, SecondsRemaining: 60})
	s, notifications, _ := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitView(t, s, "round active", func(v View) bool { return v.State.Phase == engine.PhaseRoundActive })

	if err := chooseAndWait(t, s, engine.ChoiceSpicy); err != nil {
		t.Fatalf("choose: %v", err)
	}

	// Round ends, then the next one begins; the selection resets exactly then.
	f.setStatus(types.RoundStatus{Active: false})
	notifications <- notify.Event{Kind: notify.KindRoundCount}
	waitView(t, s, "between rounds", func(v View) bool { return v.State.Phase == engine.PhaseAwaitingRound })

	f.setStatus(types.RoundStatus{Active: true, SecondsRemaining: 60})
	notifications <- notify.Event{Kind: notify.KindRoundCount}
	v := waitView(t, s, "next round", func(v View) bool { return v.State.Phase == engine.PhaseRoundActive })
	if v.State.SelfSelection != "" {
		t.Fatalf("selection not cleared on round start, got %q", v.State.SelfSelection)
	}
}

func waitPendingStatus(t *testing.T, f *fakeFetcher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		pending := len(f.statusQueue)
		f.mu.Unlock()
		if pending == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d in-flight status fetches, have %d", n, pending)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStaleStatusResult_IsDropped(t *testing.T) {
	f := newFakeFetcher()
	f.blockStatus = true
	s, notifications, _ := newTestSession(t, f)

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Three status fetches end up in flight: one from the post-registration
	// resync and one per notification. Waiting for each to park before sending
	// the next keeps the queue in generation order.
	waitPendingStatus(t, f, 1)
	notifications <- notify.Event{Kind: notify.KindRoundCount}
	waitPendingStatus(t, f, 2)
	notifications <- notify.Event{Kind: notify.KindRoundCount}
	waitPendingStatus(t, f, 3)

	f.mu.Lock()
	oldest, older, newest := f.statusQueue[0], f.statusQueue[1], f.statusQueue[2]
	f.mu.Unlock()

	// The newest request resolves first: round is active.
	newest <- types.RoundStatus{Active: true, SecondsRemaining: 30}
	waitView(t, s, "round active", func(v View) bool { return v.State.RoundActive })

	// The earlier requests resolve late claiming the round is over; they lost
	// the race and must not overwrite the fresher observation.
	older <- types.RoundStatus{Active: false}
	oldest <- types.RoundStatus{Active: false}
	time.Sleep(100 * time.Millisecond)
	if v := getView(t, s); !v.State.RoundActive {
		t.Fatalf("stale status overwrote fresh one: %+v", v.State)
	}
}

func TestSubscribe_ReceivesViewsAndInitialSnapshot(t *testing.T) {
	f := newFakeFetcher()
	s, notifications, _ := newTestSession(t, f)

	out := make(chan View, 16)
	s.Inbox() <- Subscribe{ID: "ui", Outbox: out}

	select {
	case v := <-out:
		if v.State.Phase != engine.PhaseUnregistered {
			t.Fatalf("initial view should be unregistered, got %v", v.State.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for initial view")
	}

	f.mu.Lock()
	f.roster = []types.Participant{{ID: 2, Name: "Bob", Answers: []string{}}}
	f.mu.Unlock()
	notifications <- notify.Event{Kind: notify.KindUserCount}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-out:
			if len(v.State.Roster) == 1 && v.State.Roster[0].Name == "Bob" {
				return
			}
		case <-deadline:
			t.Fatalf("never observed the roster update")
		}
	}
}

func TestChoose_BeforeRoundIsRejected(t *testing.T) {
	f := newFakeFetcher()
	s, _, _ := newTestSession(t, f)

	if err := chooseAndWait(t, s, engine.ChoiceSweet); !errors.Is(err, engine.ErrNotRegistered) {
		t.Fatalf("want ErrNotRegistered, got %v", err)
	}

	if err := sendAndWait(t, s, "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := chooseAndWait(t, s, engine.ChoiceSweet); !errors.Is(err, engine.ErrNoActiveRound) {
		t.Fatalf("want ErrNoActiveRound, got %v", err)
	}
}
