package loans

import (
	"database/sql"
	"time"

	"library-backend/internal/library/inventory"
)

type Loan struct {
	ID           int64
	Reference    string // ULID
	UserID       int64
	BookID       int64
	Quantity     int
	Reason       string
	Contact      string
	CheckedOutAt time.Time
	ReturnedAt   sql.NullTime // NULL = 貸出中
}

func (l *Loan) Returned() bool { return l.ReturnedAt.Valid }

type User struct {
	ID    int64
	Name  string
	Email string
}

// Detail: 貸出 + 借りた人 + 本（一覧・詳細のレスポンス用）
type Detail struct {
	Loan
	User User
	Book inventory.Book
}

const (
	StatusOpen     = "open"
	StatusReturned = "returned"
)

type Filter struct {
	UserID *int64
	BookID *int64
	Status string // "", open, returned
	From   *time.Time
	To     *time.Time
}

type Page struct {
	Limit  int
	Offset int
	Order  string // asc | desc（checked_out_at）
}
