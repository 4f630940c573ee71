package conversation

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
)

// Integration tests are enabled when CHAT_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_Contract(t *testing.T) {
	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T) Store {
		schema := mustCreateTestSchema(t, pool)
		t.Cleanup(func() { mustDropSchema(t, pool, schema) })

		st, err := NewPostgresStore(pool, WithSchema(schema))
		if err != nil {
			t.Fatalf("new postgres store: %v", err)
		}
		if err := st.Migrate(testCtx(t)); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return st
	})
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := st.Migrate(testCtx(t)); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}

func TestPostgresStore_CheckSchema(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	if err := st.CheckSchema(testCtx(t)); !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("expected ErrSchemaMissing before migrate, got %v", err)
	}
	if err := st.Migrate(testCtx(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.CheckSchema(testCtx(t)); err != nil {
		t.Fatalf("check after migrate: %v", err)
	}

	// A table from before edit and delete timestamps is upgraded by Migrate.
	if _, err := pool.Exec(testCtx(t), `ALTER TABLE `+pgIdent(schema, "messages")+` DROP COLUMN edited_at`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	if err := st.CheckSchema(testCtx(t)); !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("expected ErrSchemaMissing without edited_at, got %v", err)
	}
	if err := st.Migrate(testCtx(t)); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if err := st.CheckSchema(testCtx(t)); err != nil {
		t.Fatalf("check after upgrade: %v", err)
	}
}

func TestWithSchema_RejectsInvalidIdentifiers(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "1abc", "bad-name", `x"; DROP`} {
		st := &PostgresStore{}
		if err := WithSchema(in)(st); err == nil {
			t.Fatalf("WithSchema(%q): expected error", in)
		}
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

// ---- test helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CHAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CHAT_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "chat_it_" + strings.ToLower(ids.MustULID(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
