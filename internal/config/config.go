// Package config reads both binaries' settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Client struct {
	APIBaseURL string        `env:"QUIZ_API_URL" envDefault:"http://localhost:3000"`
	WSURL      string        `env:"QUIZ_WS_URL" envDefault:"ws://localhost:3000/ws"`
	RetryDelay time.Duration `env:"QUIZ_WS_RETRY_DELAY" envDefault:"1s"`
}

type Server struct {
	Addr         string   `env:"QUIZ_ADDR" envDefault:":3000"`
	MaxUsers     int      `env:"QUIZ_MAX_USERS" envDefault:"4"`
	RoundSeconds int      `env:"QUIZ_ROUND_SECONDS" envDefault:"60"`
	AnswerPool   []string `env:"QUIZ_ANSWER_POOL" envDefault:"Picante,Dulce,Picante,Dulce"`
}

func LoadClient() (Client, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg, nil
}

func LoadServer() (Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("failed to parse server config: %w", err)
	}
	return cfg, nil
}
