// Package authority is an in-memory stand-in for the real quiz server, used
// by cmd/stubserver and the integration tests. It owns the canonical session
// state (roster, rounds, answer bank, capacity) and pushes the same
// payload-less change notifications over its websocket endpoint that the
// production authority does.
package authority

import (
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

type Options struct {
	MaxUsers     int
	RoundSeconds int
	AnswerPool   []string
}

type Server struct {
	log          *zap.Logger
	maxUsers     int
	roundSeconds int

	mu          sync.Mutex
	users       []types.Participant
	nextID      int
	round       int
	roundActive bool
	roundEnds   time.Time
	roundGen    int // invalidates end-of-round timers from earlier rounds
	reveal      bool
	pool        []string
	conns       map[*websocket.Conn]struct{}
}

func New(opts Options, log *zap.Logger) *Server {
	return &Server{
		log:          log,
		maxUsers:     opts.MaxUsers,
		roundSeconds: opts.RoundSeconds,
		nextID:       1,
		reveal:       true,
		pool:         opts.AnswerPool,
		conns:        make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) roster() []types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Participant, len(s.users))
	copy(out, s.users)
	return out
}

func (s *Server) register(name string) (types.Participant, bool) {
	s.mu.Lock()
	if len(s.users) >= s.maxUsers {
		s.mu.Unlock()
		return types.Participant{}, false
	}
	p := types.Participant{ID: s.nextID, Name: name, Answers: []string{}}
	s.nextID++
	s.users = append(s.users, p)
	s.mu.Unlock()

	s.notifyAll(types.NotifyUserCount)
	return p, true
}

func (s *Server) submitAnswer(id, round int, answer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID != id {
			continue
		}
		for len(s.users[i].Answers) <= round {
			s.users[i].Answers = append(s.users[i].Answers, "")
		}
		s.users[i].Answers[round] = answer
		return true
	}
	return false
}

func (s *Server) capacityReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users) >= s.maxUsers
}

func (s *Server) currentRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

func (s *Server) roundStatus() types.RoundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roundActive {
		return types.RoundStatus{}
	}
	remaining := int(time.Until(s.roundEnds).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return types.RoundStatus{Active: true, SecondsRemaining: remaining}
}

// startRound arms the current round; nextRound advances the index first.
func (s *Server) startRound() {
	s.mu.Lock()
	s.roundActive = true
	s.roundEnds = time.Now().Add(time.Duration(s.roundSeconds) * time.Second)
	s.roundGen++
	gen := s.roundGen
	s.mu.Unlock()

	time.AfterFunc(time.Duration(s.roundSeconds)*time.Second, func() { s.endRound(gen) })
	s.notifyAll(types.NotifyRoundCount)
}

func (s *Server) nextRound() int {
	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()

	s.startRound()
	return round
}

func (s *Server) endRound(gen int) {
	s.mu.Lock()
	if gen != s.roundGen || !s.roundActive {
		s.mu.Unlock()
		return
	}
	s.roundActive = false
	s.mu.Unlock()

	s.notifyAll(types.NotifyRoundCount)
}

func (s *Server) answerPool() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pool))
	copy(out, s.pool)
	return out
}

func (s *Server) revealBank() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reveal
}

func (s *Server) setRevealBank(reveal bool) {
	s.mu.Lock()
	changed := s.reveal != reveal
	s.reveal = reveal
	s.mu.Unlock()

	if changed {
		s.notifyAll(types.NotifyAnswerBank)
	}
}
