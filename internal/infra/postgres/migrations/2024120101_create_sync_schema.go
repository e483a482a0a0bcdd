package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_sync_schema.sql
var createSyncSchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createSyncSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS pod_members;
				DROP TABLE IF EXISTS pods;
				DROP TABLE IF EXISTS used_questions;
				DROP TABLE IF EXISTS student_attempts;
				DROP TABLE IF EXISTS questions;`)
			return err
		},
	)
}
