package main

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"library-backend/internal/platform/db"
	"library-backend/internal/platform/logger"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "スキーマのマイグレーション",
	}

	run := func(fn func(context.Context, *sql.DB, db.Dialect) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger.Setup(cfg.Log)
			conn, dialect, err := db.Connect(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()
			return fn(cmd.Context(), conn, dialect)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "未適用のマイグレーションをすべて適用", Args: cobra.NoArgs, RunE: run(db.Migrate)},
		&cobra.Command{Use: "down", Short: "直近のマイグレーションを1つ戻す", Args: cobra.NoArgs, RunE: run(db.MigrateDown)},
		&cobra.Command{Use: "status", Short: "適用状況を表示", Args: cobra.NoArgs, RunE: run(db.MigrateStatus)},
	)
	return cmd
}
