package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dulceopicante/quiz-client/internal/config"
	"github.com/dulceopicante/quiz-client/internal/engine"
	"github.com/dulceopicante/quiz-client/internal/fetch"
	"github.com/dulceopicante/quiz-client/internal/notify"
	"github.com/dulceopicante/quiz-client/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := fetch.NewClient(cfg.APIBaseURL)
	ch := notify.New(cfg.WSURL, log.Named("notify"), notify.WithRetryDelay(cfg.RetryDelay))
	sess := session.New(ctx, client, ch.Events(), clockwork.NewRealClock(), log.Named("session"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ch.Run(ctx) })
	g.Go(func() error { return renderViews(ctx, sess) })
	g.Go(func() error { return readInput(ctx, sess, cancel) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("client exited", zap.Error(err))
	}
}

// renderViews prints one status line per state change. All session logic
// stays in the session; this only formats what the view already says.
func renderViews(ctx context.Context, sess *session.Session) error {
	out := make(chan session.View, 16)
	sess.Inbox() <- session.Subscribe{ID: "terminal", Outbox: out}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-out:
			if !ok {
				return nil
			}
			fmt.Println(render(v))
		}
	}
}

func render(v session.View) string {
	s := v.State
	switch s.Phase {
	case engine.PhaseUnregistered:
		return "Escribe tu nombre para participar:"
	case engine.PhaseCapacityReached:
		return "¡Ya hay suficientes participantes!"
	case engine.PhaseAwaitingRound:
		return fmt.Sprintf("[%s] esperando la siguiente ronda...", s.Self.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ronda %d | %ds | ¿Es dulce o picante? (a=%s, b=%s)",
		s.Round+1, s.SecondsRemaining, engine.ChoiceSweet, engine.ChoiceSpicy)
	if s.SelfSelection != "" {
		fmt.Fprintf(&b, " | elegiste %s", s.SelfSelection)
	}
	for i, p := range s.Roster {
		if s.Self != nil && p.ID == s.Self.ID {
			continue
		}
		fmt.Fprintf(&b, "\n  %-12s %s", p.Name, engine.DisplayAnswer(s, p, i))
	}
	return b.String()
}

func readInput(ctx context.Context, sess *session.Session, cancel context.CancelFunc) error {
	scanner := bufio.NewScanner(os.Stdin)
	registered := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" {
			cancel()
			return nil
		}

		if !registered {
			if err := send(ctx, sess, session.RegisterRequest{Name: line, Reply: make(chan error, 1)}); err != nil {
				if errors.Is(err, fetch.ErrCapacityReached) {
					continue // the view already shows the lockout
				}
				fmt.Fprintf(os.Stderr, "no se pudo registrar: %v\n", err)
				continue
			}
			registered = true
			continue
		}

		var choice string
		switch line {
		case "a":
			choice = engine.ChoiceSweet
		case "b":
			choice = engine.ChoiceSpicy
		default:
			fmt.Println("usa 'a' (Dulce), 'b' (Picante) o 'q' para salir")
			continue
		}
		if err := send(ctx, sess, session.ChooseAnswer{Choice: choice, Reply: make(chan error, 1)}); err != nil {
			fmt.Fprintf(os.Stderr, "respuesta rechazada: %v\n", err)
		}
	}
	return scanner.Err()
}

// send pushes a request into the session and waits for its reply.
func send(ctx context.Context, sess *session.Session, msg session.Msg) error {
	var reply chan error
	switch m := msg.(type) {
	case session.RegisterRequest:
		reply = m.Reply
	case session.ChooseAnswer:
		reply = m.Reply
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}

	sess.Inbox() <- msg
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
