package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/mysql/*.sql migrations/sqlite3/*.sql
var migrations embed.FS

func prepareGoose(d Dialect) (string, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(string(d)); err != nil {
		return "", fmt.Errorf("goose dialect: %w", err)
	}
	return "migrations/" + string(d), nil
}

// Migrate: 未適用のマイグレーションをすべて流す
func Migrate(ctx context.Context, conn *sql.DB, d Dialect) error {
	dir, err := prepareGoose(d)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, conn, dir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown: 直近の1本だけ戻す
func MigrateDown(ctx context.Context, conn *sql.DB, d Dialect) error {
	dir, err := prepareGoose(d)
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, conn, dir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func MigrateStatus(ctx context.Context, conn *sql.DB, d Dialect) error {
	dir, err := prepareGoose(d)
	if err != nil {
		return err
	}
	return goose.StatusContext(ctx, conn, dir)
}
