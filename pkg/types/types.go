package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultRoundSeconds is the round length assumed when the authority only
// reports a bare boolean for round status (older protocol revisions).
const DefaultRoundSeconds = 60

// Participant is the authority's record for one registered user. The client
// never mutates it; each roster fetch replaces it wholesale.
type Participant struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Answers []string `json:"answers"`
}

// AnswerAt returns the participant's answer for the given round, or false if
// the round has no recorded answer (unanswered rounds may be absent or empty).
func (p Participant) AnswerAt(round int) (string, bool) {
	if round < 0 || round >= len(p.Answers) {
		return "", false
	}
	if p.Answers[round] == "" {
		return "", false
	}
	return p.Answers[round], true
}

// RoundStatus is the authority's answer to "is a round running right now".
type RoundStatus struct {
	Active           bool `json:"active"`
	SecondsRemaining int  `json:"secondsRemaining"`
}

// UnmarshalJSON accepts both the structured form and the bare boolean some
// protocol revisions return. A bare `true` implies the default round length.
func (rs *RoundStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var active bool
	if err := json.Unmarshal(data, &active); err == nil {
		rs.Active = active
		rs.SecondsRemaining = 0
		if active {
			rs.SecondsRemaining = DefaultRoundSeconds
		}
		return nil
	}

	type structured RoundStatus
	var s structured
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("round status: %w", err)
	}
	*rs = RoundStatus(s)
	return nil
}

// Notification is the envelope delivered over the websocket channel. It names
// a category of change and carries no payload.
type Notification struct {
	Type string `json:"type"`
}

const (
	NotifyUserCount  = "on-user-count-changed"
	NotifyRoundCount = "on-round-count-changed"
	NotifyAnswerBank = "on-answers-bank-count-changed"
)

type RegisterRequest struct {
	Name string `json:"name"`
}

// RegisterResponse carries either the created participant or an error message
// (the authority signals a full session with an error payload, not a status).
type RegisterResponse struct {
	ID      int      `json:"id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Answers []string `json:"answers,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type SubmitAnswerRequest struct {
	Round  int    `json:"round"`
	Answer string `json:"answer"`
}
