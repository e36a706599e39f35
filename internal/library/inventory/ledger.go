// Package inventory は棚の在庫と貸出中の冊数の整合を保つ。
// 本ごとに「棚の在庫 + 貸出中の数量」は一定。両者の間で在庫を動かすのは
// Reserve / Release だけで、どちらも呼び出し側のトランザクション内で実行する。
package inventory

import (
	"context"
	"log/slog"

	"library-backend/internal/platform/apierr"
)

type Book struct {
	ID       int64
	Title    string
	Category string
	Quantity int
}

// Stock: 台帳が使うストレージの一部。本が無ければ (nil, nil) を返す
type Stock interface {
	// GetBook: 行を読み、トランザクション終了まで書き込みロックを保持する
	GetBook(ctx context.Context, id int64) (*Book, error)
	AdjustBookStock(ctx context.Context, id int64, delta int) (*Book, error)
}

type Ledger struct {
	log *slog.Logger
}

func NewLedger(l *slog.Logger) *Ledger {
	if l == nil {
		l = slog.Default()
	}
	return &Ledger{log: l}
}

// Reserve: 棚から qty 冊取り出す
func (l *Ledger) Reserve(ctx context.Context, s Stock, bookID int64, qty int) (*Book, error) {
	if qty <= 0 {
		return nil, apierr.ErrInvalid("quantity must be > 0")
	}
	b, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, apierr.AsStorage(err)
	}
	if b == nil {
		return nil, apierr.ErrNotFound("book not found")
	}
	if b.Quantity < qty {
		l.log.DebugContext(ctx, "reserve rejected", "book_id", bookID, "stock", b.Quantity, "requested", qty)
		return nil, apierr.ErrInsufficientStock("insufficient stock")
	}

	updated, err := s.AdjustBookStock(ctx, bookID, -qty)
	if err != nil {
		return nil, apierr.AsStorage(err)
	}
	if updated == nil {
		return nil, apierr.ErrNotFound("book not found")
	}
	return updated, nil
}

// Release: qty 冊を棚に戻す。上限チェックはしない
func (l *Ledger) Release(ctx context.Context, s Stock, bookID int64, qty int) (*Book, error) {
	if qty <= 0 {
		return nil, apierr.ErrInvalid("quantity must be > 0")
	}
	updated, err := s.AdjustBookStock(ctx, bookID, qty)
	if err != nil {
		return nil, apierr.AsStorage(err)
	}
	if updated == nil {
		return nil, apierr.ErrNotFound("book not found")
	}
	return updated, nil
}
