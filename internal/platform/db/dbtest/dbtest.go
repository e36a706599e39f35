// Package dbtest はスキーマ適用済みの使い捨て SQLite を開く。
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"library-backend/internal/platform/db"
)

// Open: t.TempDir 配下に作成し、テスト終了時に閉じる
func Open(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.db")
	conn, err := sql.Open(db.SQLite.DriverName(), db.SQLiteDSN(path))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
