package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

// dbApplicationName tags chat sessions in pg_stat_activity unless the URL sets its own.
const dbApplicationName = "chat-server"

// NewDBPool builds the pool from CHAT_DATABASE_URL and the CHAT_DB_* limits and waits until a
// connection can be acquired.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if _, set := pcfg.ConnConfig.RuntimeParams["application_name"]; !set {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// openPostgresStore connects and prepares the chat schema. With CHAT_DB_AUTO_MIGRATE the
// tables are created or upgraded in place; without it they must already be current.
// The caller owns the returned pool.
func openPostgresStore(ctx context.Context, cfg Config) (*conversation.PostgresStore, *pgxpool.Pool, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := conversation.NewPostgresStore(pool, conversation.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		err = st.Migrate(ctx)
	} else {
		err = st.CheckSchema(ctx)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("schema %q: %w", cfg.DBSchema, err)
	}
	return st, pool, nil
}

// dbReadiness fails while the pool is unreachable or the chat tables are missing.
func dbReadiness(pool *pgxpool.Pool, st *conversation.PostgresStore) readinessCheck {
	return readinessCheck{name: "db", check: func(ctx context.Context) error {
		if err := PingDB(ctx, pool, 2*time.Second); err != nil {
			return err
		}
		return st.CheckSchema(ctx)
	}}
}

// PingDB round-trips to the server within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
