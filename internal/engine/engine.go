package engine

import (
	"errors"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

var ErrNotRegistered = errors.New("participant not registered")
var ErrAlreadyRegistered = errors.New("participant already registered")
var ErrNoActiveRound = errors.New("no round in progress")
var ErrUnknownChoice = errors.New("unknown choice")
var ErrUnsupportedCommand = errors.New("unsupported command")

// The two fixed choices every round offers.
const (
	ChoiceSweet = "Dulce"
	ChoiceSpicy = "Picante"
)

// AwaitingAnswer is shown for a participant with no recorded answer yet.
const AwaitingAnswer = "..."

type Phase string

const (
	PhaseUnregistered    Phase = "unregistered"
	PhaseCapacityReached Phase = "capacity-reached"
	PhaseAwaitingRound   Phase = "awaiting-round"
	PhaseRoundActive     Phase = "round-active"
)

// State is the canonical, presentation-agnostic session state. It is a value
// type: Apply returns an updated copy and never mutates its input.
type State struct {
	Phase              Phase
	Self               *types.Participant
	Roster             []types.Participant
	Round              int
	RoundActive        bool
	SecondsRemaining   int
	RevealBank         bool
	AnswerPool         []string
	RegistrationClosed bool
	SelfSelection      string // "" until a choice is made this round
}

func NewState() State {
	return State{Phase: PhaseUnregistered, RevealBank: true}
}

// Registered reports whether the local participant has joined the session.
func (s State) Registered() bool { return s.Self != nil }

type CommandType string

const (
	CmdApplyRoster      CommandType = "ApplyRoster"
	CmdApplyRound       CommandType = "ApplyRound"
	CmdApplyStatus      CommandType = "ApplyStatus"
	CmdApplyAnswerPool  CommandType = "ApplyAnswerPool"
	CmdApplyRevealBank  CommandType = "ApplyRevealBank"
	CmdApplyCapacity    CommandType = "ApplyCapacity"
	CmdRegistered       CommandType = "Registered"
	CmdRegistrationFull CommandType = "RegistrationFull"
	CmdClockTick        CommandType = "ClockTick"
	CmdClockExpired     CommandType = "ClockExpired"
	CmdSelect           CommandType = "Select"
)

// Command is one observation (a fetch result, a clock signal, a registration
// outcome) or one local action (a choice) fed into the state machine.
type Command struct {
	Type        CommandType
	Roster      []types.Participant
	Round       int
	Status      types.RoundStatus
	AnswerPool  []string
	Flag        bool // reveal-bank or capacity value
	Participant types.Participant
	Choice      string
}

type EventType string

const (
	EvtRoundStarted    EventType = "RoundStarted"
	EvtRoundEnded      EventType = "RoundEnded"
	EvtTimerSynced     EventType = "TimerSynced"
	EvtAnswerChosen    EventType = "AnswerChosen"
	EvtRegistered      EventType = "Registered"
	EvtCapacityReached EventType = "CapacityReached"
)

// Event tells the caller which side effects a transition asks for (start or
// resync the countdown, submit an answer, begin a full resync).
type Event struct {
	Type    EventType
	Seconds int
	Active  bool
	Round   int
	Choice  string
}

// Apply runs one command against the state and returns the events it
// triggered plus the new state. Observations are idempotent: applying the
// same fetch result twice leaves the state where the first application put it.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdApplyRoster:
		newState.Roster = cmd.Roster
		// The fetched copy of self may carry answers the local one lacks.
		if s.Self != nil {
			for i := range cmd.Roster {
				if cmd.Roster[i].ID == s.Self.ID {
					self := cmd.Roster[i]
					newState.Self = &self
					break
				}
			}
		}
		return nil, newState, nil

	case CmdApplyRound:
		// Round index is monotonic; a stale lower value is ignored.
		if cmd.Round <= s.Round {
			return nil, s, nil
		}
		newState.Round = cmd.Round
		newState.SelfSelection = ""
		return nil, newState, nil

	case CmdApplyStatus:
		status := cmd.Status
		// An active report with no time left is a round that already ended;
		// the authority serves this in the window between its timer expiring
		// and its own bookkeeping catching up. Entering RoundActive here would
		// strand the countdown at zero with no tick left to end it.
		if status.Active && status.SecondsRemaining <= 0 {
			status.Active = false
			status.SecondsRemaining = 0
		}

		events := []Event{{
			Type:    EvtTimerSynced,
			Active:  status.Active,
			Seconds: status.SecondsRemaining,
		}}

		if status.Active {
			newState.SecondsRemaining = status.SecondsRemaining
			if !s.RoundActive {
				newState.RoundActive = true
				newState.SelfSelection = ""
				if s.Registered() && s.Phase != PhaseCapacityReached {
					newState.Phase = PhaseRoundActive
				}
				events = append(events, Event{Type: EvtRoundStarted, Seconds: status.SecondsRemaining})
			}
			return events, newState, nil
		}

		newState.SecondsRemaining = 0
		if s.RoundActive {
			newState.RoundActive = false
			if s.Phase == PhaseRoundActive {
				newState.Phase = PhaseAwaitingRound
			}
			events = append(events, Event{Type: EvtRoundEnded})
		}
		return events, newState, nil

	case CmdApplyAnswerPool:
		newState.AnswerPool = cmd.AnswerPool
		return nil, newState, nil

	case CmdApplyRevealBank:
		newState.RevealBank = cmd.Flag
		return nil, newState, nil

	case CmdApplyCapacity:
		// The flag only matters pre-registration; a registered participant is
		// never locked out by a later capacity observation.
		if s.Registered() {
			return nil, s, nil
		}
		newState.RegistrationClosed = cmd.Flag
		if cmd.Flag && s.Phase == PhaseUnregistered {
			newState.Phase = PhaseCapacityReached
			return []Event{{Type: EvtCapacityReached}}, newState, nil
		}
		return nil, newState, nil

	case CmdRegistered:
		if s.Registered() {
			return nil, s, ErrAlreadyRegistered
		}
		self := cmd.Participant
		newState.Self = &self
		newState.Phase = PhaseAwaitingRound
		newState.RegistrationClosed = false
		return []Event{{Type: EvtRegistered}}, newState, nil

	case CmdRegistrationFull:
		if s.Registered() {
			return nil, s, nil
		}
		newState.RegistrationClosed = true
		if s.Phase == PhaseUnregistered {
			newState.Phase = PhaseCapacityReached
			return []Event{{Type: EvtCapacityReached}}, newState, nil
		}
		return nil, newState, nil

	case CmdClockTick:
		// One logical second elapsed locally; the next status fetch corrects
		// whatever drift these decrements accumulate.
		if !s.RoundActive || s.SecondsRemaining == 0 {
			return nil, s, nil
		}
		newState.SecondsRemaining = s.SecondsRemaining - 1
		return nil, newState, nil

	case CmdClockExpired:
		if !s.RoundActive {
			return nil, s, nil
		}
		newState.RoundActive = false
		newState.SecondsRemaining = 0
		if s.Phase == PhaseRoundActive {
			newState.Phase = PhaseAwaitingRound
		}
		return []Event{{Type: EvtRoundEnded}}, newState, nil

	case CmdSelect:
		if !s.Registered() {
			return nil, s, ErrNotRegistered
		}
		if s.Phase != PhaseRoundActive {
			return nil, s, ErrNoActiveRound
		}
		if cmd.Choice != ChoiceSweet && cmd.Choice != ChoiceSpicy {
			return nil, s, ErrUnknownChoice
		}
		// Re-selecting overwrites and re-sends; the authority decides whether
		// the overwrite sticks.
		newState.SelfSelection = cmd.Choice
		return []Event{{Type: EvtAnswerChosen, Round: s.Round, Choice: cmd.Choice}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// DisplayAnswer renders participant rosterIndex's answer for the current
// round as another participant should see it: the awaiting placeholder until
// they answer, the shared answer-pool entry while the bank is revealed, and
// the literal answer otherwise.
func DisplayAnswer(s State, p types.Participant, rosterIndex int) string {
	answer, ok := p.AnswerAt(s.Round)
	if !ok {
		return AwaitingAnswer
	}
	if s.RevealBank {
		if rosterIndex < 0 || rosterIndex >= len(s.AnswerPool) {
			return AwaitingAnswer
		}
		return s.AnswerPool[rosterIndex]
	}
	return answer
}
