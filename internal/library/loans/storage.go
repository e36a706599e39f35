package loans

import (
	"context"
	"time"

	"library-backend/internal/library/inventory"
)

// Tx: 1つのトランザクション内から見たストレージ。行が無ければ (nil, nil)
type Tx interface {
	inventory.Stock

	GetUser(ctx context.Context, id int64) (*User, error)
	// GetLoan: 貸出行をトランザクション終了までロックする
	GetLoan(ctx context.Context, id int64) (*Loan, error)
	// CreateLoan: l を挿入して l.ID を埋める
	CreateLoan(ctx context.Context, l *Loan) error
	// UpdateLoanReturnTime: 貸出中なら返却日時を入れる。無い・返却済みなら false
	UpdateLoanReturnTime(ctx context.Context, id int64, at time.Time) (bool, error)
	DeleteLoan(ctx context.Context, id int64) (bool, error)
}

type Storage interface {
	// RunAtomic: fn が nil を返せばコミット、それ以外はロールバック
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	LoanByID(ctx context.Context, id int64) (*Detail, error)
	LoanByReference(ctx context.Context, ref string) (*Detail, error)
	ListLoans(ctx context.Context, f Filter, p Page) ([]Detail, int64, error)
	BookIDsByTitleKey(ctx context.Context, key string) ([]int64, error)
}
