package app

import (
	"context"
	"errors"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Run is the CLI entrypoint used by cmd/chatd.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	envErr := LoadDotEnv()

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Warn("dotenv.load.fail", "err", envErr)
	}

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

// LoadDotEnv loads .env from the working directory when present. Variables already set in
// the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
