// Package session is the reconciliation coordinator: a single goroutine that
// owns the session state and keeps it consistent with the quiz server. The
// notification channel only says that something changed, so every trigger
// maps to a bounded set of snapshot fetches; fetches run concurrently but
// their results come back through the same inbox, so state is never mutated
// from two goroutines.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/internal/clock"
	"github.com/dulceopicante/quiz-client/internal/engine"
	"github.com/dulceopicante/quiz-client/internal/fetch"
	"github.com/dulceopicante/quiz-client/internal/notify"
	"github.com/dulceopicante/quiz-client/pkg/types"
)

const fetchTimeout = 10 * time.Second

// Fetcher pulls one authoritative snapshot per call. *fetch.Client satisfies
// it; tests substitute their own.
type Fetcher interface {
	Roster(ctx context.Context) ([]types.Participant, error)
	Round(ctx context.Context) (int, error)
	RoundStatus(ctx context.Context) (types.RoundStatus, error)
	AnswerPool(ctx context.Context) ([]string, error)
	RevealBank(ctx context.Context) (bool, error)
	CapacityReached(ctx context.Context) (bool, error)
	Register(ctx context.Context, name string) (types.Participant, error)
	SubmitAnswer(ctx context.Context, participantID, round int, choice string) error
}

type Msg interface{ isSessionMsg() }

// RegisterRequest joins the session under the given name. The reply carries
// fetch.ErrCapacityReached when the session is full.
type RegisterRequest struct {
	Name  string
	Reply chan error
}

func (RegisterRequest) isSessionMsg() {}

// ChooseAnswer records the local choice for the current round and re-sends it
// to the server. Re-choosing in the same round overwrites.
type ChooseAnswer struct {
	Choice string
	Reply  chan error
}

func (ChooseAnswer) isSessionMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isSessionMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan View // receives a view immediately, then one per state change
}

func (Subscribe) isSessionMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// resource identifies one fetchable snapshot, for the staleness guard.
type resource int

const (
	resRoster resource = iota
	resRound
	resStatus
	resPool
	resReveal
	resCapacity
	numResources
)

var resourceNames = [numResources]string{"roster", "round", "status", "pool", "reveal", "capacity"}

type fetchResult struct {
	res resource
	gen uint64
	cmd engine.Command
	err error
}

func (fetchResult) isSessionMsg() {}

type registerResult struct {
	participant types.Participant
	err         error
	reply       chan error
}

func (registerResult) isSessionMsg() {}

// View is a read-only copy of the session state handed to presentation.
type View struct {
	Version int
	State   engine.State
}

type Session struct {
	inbox         chan Msg
	fetcher       Fetcher
	notifications <-chan notify.Event
	clk           clockwork.Clock
	log           *zap.Logger

	state       engine.State
	rc          clock.RoundClock
	version     int
	subscribers map[string]chan View

	// issued[r] is the generation of the newest fetch in flight for r; a
	// result from an older generation lost the race and is dropped.
	issued [numResources]uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, fetcher Fetcher, notifications <-chan notify.Event, clk clockwork.Clock, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox:         make(chan Msg, 64),
		fetcher:       fetcher,
		notifications: notifications,
		clk:           clk,
		log:           log,
		state:         engine.NewState(),
		subscribers:   make(map[string]chan View),
		ctx:           ctx,
		cancel:        cancel,
	}

	go s.loop()
	return s
}

// Expose the inbox so presentation and tests can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	ticker := s.clk.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case RegisterRequest:
				s.handleRegister(msg)

			case registerResult:
				s.handleRegisterResult(msg)

			case ChooseAnswer:
				msg.Reply <- s.apply(engine.Command{Type: engine.CmdSelect, Choice: msg.Choice})

			case fetchResult:
				s.handleFetchResult(msg)

			case GetView:
				msg.Reply <- View{Version: s.version, State: s.state}

			case Subscribe:
				s.subscribers[msg.ID] = msg.Outbox
				msg.Outbox <- View{Version: s.version, State: s.state}

			case Unsubscribe:
				delete(s.subscribers, msg.ID)

			case Shutdown:
				s.shutdown()
				return
			}

		case ev, ok := <-s.notifications:
			if !ok {
				s.notifications = nil
				continue
			}
			s.handleNotification(ev.Kind)

		case <-ticker.Chan():
			s.handleTick()
		}
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.cancel()
}

// apply runs one command through the state machine and performs whatever side
// effects its events ask for. Any state change is broadcast.
func (s *Session) apply(cmd engine.Command) error {
	events, newState, err := engine.Apply(s.state, cmd)
	if err != nil {
		return err
	}
	s.state = newState

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtTimerSynced:
			s.rc.Resync(ev.Seconds, ev.Active)
		case engine.EvtRoundStarted:
			s.rc.Start(ev.Seconds)
		case engine.EvtAnswerChosen:
			s.submitAnswer(ev.Round, ev.Choice)
		}
	}

	s.version++
	s.broadcast()
	return nil
}

func (s *Session) broadcast() {
	view := View{Version: s.version, State: s.state}
	for id, ch := range s.subscribers {
		select {
		case ch <- view:
			// ok
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

func (s *Session) handleRegister(msg RegisterRequest) {
	if s.state.Registered() {
		msg.Reply <- engine.ErrAlreadyRegistered
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
		defer cancel()

		p, err := s.fetcher.Register(ctx, msg.Name)
		select {
		case s.inbox <- registerResult{participant: p, err: err, reply: msg.Reply}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) handleRegisterResult(msg registerResult) {
	if msg.err != nil {
		if errors.Is(msg.err, fetch.ErrCapacityReached) {
			_ = s.apply(engine.Command{Type: engine.CmdRegistrationFull})
		} else {
			s.log.Warn("registration failed", zap.Error(msg.err))
		}
		msg.reply <- msg.err
		return
	}

	if err := s.apply(engine.Command{Type: engine.CmdRegistered, Participant: msg.participant}); err != nil {
		msg.reply <- err
		return
	}
	s.resyncAll()
	msg.reply <- nil
}

func (s *Session) handleFetchResult(msg fetchResult) {
	if msg.err != nil {
		// Transient; the next trigger retries.
		s.log.Warn("snapshot fetch failed", zap.String("resource", resourceNames[msg.res]), zap.Error(msg.err))
		return
	}
	if msg.gen != s.issued[msg.res] {
		s.log.Debug("dropping stale fetch result",
			zap.String("resource", resourceNames[msg.res]),
			zap.Uint64("got", msg.gen),
			zap.Uint64("latest", s.issued[msg.res]))
		return
	}
	if err := s.apply(msg.cmd); err != nil {
		s.log.Warn("could not apply snapshot", zap.String("resource", resourceNames[msg.res]), zap.Error(err))
	}
}

// handleNotification maps each trigger to the fetch subset it requires.
func (s *Session) handleNotification(kind notify.Kind) {
	switch kind {
	case notify.KindConnected:
		// Anything missed while disconnected is unrecoverable, so a connect
		// means a full resync. Before registration only the capacity flag
		// matters.
		if s.state.Registered() {
			s.resyncAll()
		} else {
			s.issueFetch(resCapacity)
		}
	case notify.KindUserCount:
		s.resyncAll()
	case notify.KindRoundCount:
		s.issueFetch(resRound)
		s.issueFetch(resStatus)
	case notify.KindAnswerBank:
		s.issueFetch(resReveal)
		s.issueFetch(resPool)
	}
}

func (s *Session) resyncAll() {
	for r := resource(0); r < numResources; r++ {
		s.issueFetch(r)
	}
}

func (s *Session) handleTick() {
	if !s.rc.Running() {
		return
	}
	ended := s.rc.Tick()
	_ = s.apply(engine.Command{Type: engine.CmdClockTick})
	if ended {
		_ = s.apply(engine.Command{Type: engine.CmdClockExpired})
	}
}

// issueFetch runs one snapshot fetch in its own goroutine; the result comes
// back through the inbox carrying the generation it was issued under.
func (s *Session) issueFetch(res resource) {
	s.issued[res]++
	gen := s.issued[res]

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
		defer cancel()

		cmd, err := s.runFetch(ctx, res)
		select {
		case s.inbox <- fetchResult{res: res, gen: gen, cmd: cmd, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) runFetch(ctx context.Context, res resource) (engine.Command, error) {
	switch res {
	case resRoster:
		roster, err := s.fetcher.Roster(ctx)
		return engine.Command{Type: engine.CmdApplyRoster, Roster: roster}, err
	case resRound:
		round, err := s.fetcher.Round(ctx)
		return engine.Command{Type: engine.CmdApplyRound, Round: round}, err
	case resStatus:
		status, err := s.fetcher.RoundStatus(ctx)
		return engine.Command{Type: engine.CmdApplyStatus, Status: status}, err
	case resPool:
		pool, err := s.fetcher.AnswerPool(ctx)
		return engine.Command{Type: engine.CmdApplyAnswerPool, AnswerPool: pool}, err
	case resReveal:
		reveal, err := s.fetcher.RevealBank(ctx)
		return engine.Command{Type: engine.CmdApplyRevealBank, Flag: reveal}, err
	default:
		full, err := s.fetcher.CapacityReached(ctx)
		return engine.Command{Type: engine.CmdApplyCapacity, Flag: full}, err
	}
}

func (s *Session) submitAnswer(round int, choice string) {
	id := s.state.Self.ID

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
		defer cancel()

		if err := s.fetcher.SubmitAnswer(ctx, id, round, choice); err != nil {
			// Transient; the selection stays local and a re-choice re-sends.
			s.log.Warn("answer submission failed", zap.Error(err))
		}
	}()
}
