package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/dulceopicante/quiz-client/internal/authority"
	"github.com/dulceopicante/quiz-client/internal/config"
)

func main() {
	cfg, err := config.LoadServer()
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

	srv := authority.New(authority.Options{
		MaxUsers:     cfg.MaxUsers,
		RoundSeconds: cfg.RoundSeconds,
		AnswerPool:   cfg.AnswerPool,
	}, log.Named("authority"))

	log.Info("stub authority listening",
		zap.String("addr", cfg.Addr),
		zap.Int("max_users", cfg.MaxUsers),
		zap.Int("round_seconds", cfg.RoundSeconds))

	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
