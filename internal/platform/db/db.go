package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"library-backend/internal/platform/config"
)

// Connect: driver に応じて DSN を組み立てて接続する。Ping まで通ったものだけ返す
func Connect(ctx context.Context, c config.DatabaseConfig) (*sql.DB, Dialect, error) {
	d, err := ParseDialect(c.Driver)
	if err != nil {
		return nil, "", err
	}

	var dsn string
	switch d {
	case MySQL:
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
			c.Username, c.Password, c.Host, c.Port, c.DBName)
	case SQLite:
		dsn = SQLiteDSN(c.Path)
	}

	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("DB接続に失敗: %w", err)
	}
	configurePool(conn, d)
	return conn, d, nil
}

// SQLiteDSN: 書き込みTxは BEGIN IMMEDIATE で取る（在庫行ロックの代わり）
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate", path)
}

func configurePool(conn *sql.DB, d Dialect) {
	if d == SQLite {
		// 書き込みは1本に直列化する
		conn.SetMaxOpenConns(1)
		return
	}
	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	conn.SetMaxOpenConns(80)
	conn.SetMaxIdleConns(20)
	conn.SetConnMaxLifetime(30 * time.Minute)
	conn.SetConnMaxIdleTime(5 * time.Minute)
}
