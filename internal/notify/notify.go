// Package notify maintains the duplex notification channel to the quiz
// server. Notifications only say that something changed, never what; the
// session treats each one as a hint to refetch. The channel reconnects
// unconditionally after any close, and every (re)connect is surfaced as its
// own event so the session can run a full resync — nothing missed while
// disconnected is ever replayed.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

type Kind string

const (
	KindConnected  Kind = "Connected"
	KindUserCount  Kind = "UserCountChanged"
	KindRoundCount Kind = "RoundCountChanged"
	KindAnswerBank Kind = "AnswerBankCountChanged"
)

type Event struct {
	Kind Kind
}

const defaultRetryDelay = time.Second

type Channel struct {
	url        string
	retryDelay time.Duration
	events     chan Event
	log        *zap.Logger
}

type Option func(*Channel)

// WithRetryDelay sets the pause between a close and the next dial attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Channel) { c.retryDelay = d }
}

func New(url string, log *zap.Logger, opts ...Option) *Channel {
	c := &Channel{
		url:        url,
		retryDelay: defaultRetryDelay,
		events:     make(chan Event, 16),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Events() <-chan Event { return c.events }

// Run dials, reads, and redials until ctx is cancelled. It never returns a
// connection error: every failure is just the start of the next attempt.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.events)

	for {
		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("notification channel closed, reconnecting", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Channel) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c.log.Info("notification channel connected", zap.String("url", c.url))
	if !c.emit(ctx, Event{Kind: KindConnected}) {
		return ctx.Err()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var n types.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			// Malformed envelopes are tolerated, not treated as errors.
			c.log.Debug("dropping malformed notification", zap.ByteString("payload", data))
			continue
		}

		kind, ok := kindOf(n.Type)
		if !ok {
			c.log.Debug("ignoring unrecognized notification", zap.String("type", n.Type))
			continue
		}
		if !c.emit(ctx, Event{Kind: kind}) {
			return ctx.Err()
		}
	}
}

func (c *Channel) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func kindOf(t string) (Kind, bool) {
	switch t {
	case types.NotifyUserCount:
		return KindUserCount, true
	case types.NotifyRoundCount:
		return KindRoundCount, true
	case types.NotifyAnswerBank:
		return KindAnswerBank, true
	default:
		return "", false
	}
}
