package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the allowance store (PostgreSQL).
var Migrations = migrate.NewGroup("allowance")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_allowance_records",
			Version: "20251001000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS allowance_records (
    identity_id           TEXT PRIMARY KEY,
    tier_id               TEXT NOT NULL DEFAULT '',
    generations_remaining INTEGER NOT NULL DEFAULT 0 CHECK (generations_remaining >= 0),
    display_name          TEXT NOT NULL DEFAULT '',
    email                 TEXT NOT NULL DEFAULT '',
    avatar_ref            TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_allowance_records_tier ON allowance_records (tier_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS allowance_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_allowance_pending_purchases",
			Version: "20251001000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS allowance_pending_purchases (
    identity_id TEXT PRIMARY KEY,
    id          TEXT NOT NULL DEFAULT '',
    tier_id     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS allowance_pending_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_allowance_sessions",
			Version: "20251001000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS allowance_sessions (
    slot        TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS allowance_sessions`)
				return err
			},
		},
	)
}
