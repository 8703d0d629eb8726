// Package fetch pulls authoritative snapshots from the quiz server. Every
// call hits the server; nothing is cached here. Failures are transient from
// the session's point of view: the coordinator logs them and waits for the
// next trigger.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

// ErrCapacityReached is the expected, structured outcome of registering
// against a full session.
var ErrCapacityReached = errors.New("registration capacity reached")

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d for %s: %s", resp.StatusCode, endpoint, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d for %s: %s", resp.StatusCode, endpoint, string(body))
	}
	return body, nil
}

// Roster returns every registered participant in server order.
func (c *Client) Roster(ctx context.Context) ([]types.Participant, error) {
	var roster []types.Participant
	if err := c.get(ctx, "/api/users", &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// Round returns the zero-based index of the current round.
func (c *Client) Round(ctx context.Context) (int, error) {
	var round int
	if err := c.get(ctx, "/api/round", &round); err != nil {
		return 0, err
	}
	return round, nil
}

// RoundStatus reports whether a round is accepting answers and how long it
// has left. Older servers answer with a bare boolean; types.RoundStatus
// decodes both forms.
func (c *Client) RoundStatus(ctx context.Context) (types.RoundStatus, error) {
	var status types.RoundStatus
	if err := c.get(ctx, "/api/round/status", &status); err != nil {
		return types.RoundStatus{}, err
	}
	return status, nil
}

// AnswerPool returns the substitute answers shown while the bank is revealed.
func (c *Client) AnswerPool(ctx context.Context) ([]string, error) {
	var pool []string
	if err := c.get(ctx, "/api/answers", &pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// RevealBank reports whether the answer bank currently masks literal answers.
func (c *Client) RevealBank(ctx context.Context) (bool, error) {
	var reveal bool
	if err := c.get(ctx, "/api/answers/status", &reveal); err != nil {
		return false, err
	}
	return reveal, nil
}

// CapacityReached reports whether the session is full.
func (c *Client) CapacityReached(ctx context.Context) (bool, error) {
	var full bool
	if err := c.get(ctx, "/api/users/limit", &full); err != nil {
		return false, err
	}
	return full, nil
}

// Register creates the local participant. A full session is reported as
// ErrCapacityReached, not as a transport failure.
func (c *Client) Register(ctx context.Context, name string) (types.Participant, error) {
	body, err := c.post(ctx, "/api/users", types.RegisterRequest{Name: name})
	if err != nil {
		return types.Participant{}, err
	}

	var resp types.RegisterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Participant{}, fmt.Errorf("failed to decode register response: %w", err)
	}
	if resp.Error != "" {
		return types.Participant{}, ErrCapacityReached
	}
	return types.Participant{ID: resp.ID, Name: resp.Name, Answers: resp.Answers}, nil
}

// SubmitAnswer records the participant's choice for a round. The
// acknowledgement body is not used.
func (c *Client) SubmitAnswer(ctx context.Context, participantID, round int, choice string) error {
	endpoint := fmt.Sprintf("/api/users/%d", participantID)
	_, err := c.post(ctx, endpoint, types.SubmitAnswerRequest{Round: round, Answer: choice})
	return err
}
