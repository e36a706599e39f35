package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"library-backend/internal/library/inventory"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewStore(conn *sql.DB, d db.Dialect) *Store { return &Store{db: conn, dialect: d} }

func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &txStore{q: q, dialect: s.dialect})
	})
}

// ---------- inside Tx ----------

type txStore struct {
	q       db.DBTX
	dialect db.Dialect
}

// GetBook: 在庫行をロックして読む（sqlite は BEGIN IMMEDIATE で Tx ごと直列化済み）
func (t *txStore) GetBook(ctx context.Context, id int64) (*inventory.Book, error) {
	q := `SELECT id, title, category, quantity FROM books WHERE id = ?` + t.dialect.ForUpdate()
	var b inventory.Book
	if err := t.q.QueryRowContext(ctx, q, id).Scan(&b.ID, &b.Title, &b.Category, &b.Quantity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (t *txStore) AdjustBookStock(ctx context.Context, id int64, delta int) (*inventory.Book, error) {
	const q = `UPDATE books SET quantity = quantity + ?, updated_at = ? WHERE id = ?`
	res, err := t.q.ExecContext(ctx, q, delta, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if aff == 0 {
		return nil, nil
	}
	return t.GetBook(ctx, id)
}

func (t *txStore) GetUser(ctx context.Context, id int64) (*User, error) {
	const q = `SELECT id, name, email FROM users WHERE id = ?`
	var u User
	if err := t.q.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (t *txStore) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	q := `
	SELECT id, reference, user_id, book_id, quantity, reason, contact, checked_out_at, returned_at
	FROM loans WHERE id = ?` + t.dialect.ForUpdate()
	var l Loan
	err := t.q.QueryRowContext(ctx, q, id).Scan(
		&l.ID, &l.Reference, &l.UserID, &l.BookID, &l.Quantity,
		&l.Reason, &l.Contact, &l.CheckedOutAt, &l.ReturnedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (t *txStore) CreateLoan(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO loans
	(reference, user_id, book_id, quantity, reason, contact, checked_out_at, returned_at)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, NULL)`
	res, err := t.q.ExecContext(ctx, q,
		l.Reference, l.UserID, l.BookID, l.Quantity, l.Reason, l.Contact, l.CheckedOutAt,
	)
	if err != nil {
		if db.IsForeignKey(err) {
			return apierr.ErrNotFound("user or book not found")
		}
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("loan reference already exists")
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

func (t *txStore) UpdateLoanReturnTime(ctx context.Context, id int64, at time.Time) (bool, error) {
	const q = `UPDATE loans SET returned_at = ? WHERE id = ? AND returned_at IS NULL`
	res, err := t.q.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (t *txStore) DeleteLoan(ctx context.Context, id int64) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

// ---------- reads ----------

func (s *Store) detailQuery() *goqu.SelectDataset {
	return s.dialect.Builder().
		From(goqu.T("loans").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id"))))
}

var detailCols = []any{
	goqu.I("l.id"), goqu.I("l.reference"), goqu.I("l.user_id"), goqu.I("l.book_id"),
	goqu.I("l.quantity"), goqu.I("l.reason"), goqu.I("l.contact"),
	goqu.I("l.checked_out_at"), goqu.I("l.returned_at"),
	goqu.I("u.name"), goqu.I("u.email"),
	goqu.I("b.title"), goqu.I("b.category"), goqu.I("b.quantity"),
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDetail(r rowScanner) (Detail, error) {
	var d Detail
	err := r.Scan(
		&d.ID, &d.Reference, &d.UserID, &d.BookID,
		&d.Quantity, &d.Reason, &d.Contact,
		&d.CheckedOutAt, &d.ReturnedAt,
		&d.User.Name, &d.User.Email,
		&d.Book.Title, &d.Book.Category, &d.Book.Quantity,
	)
	d.User.ID = d.UserID
	d.Book.ID = d.BookID
	return d, err
}

func (s *Store) loanWhere(ctx context.Context, cond exp.Expression) (*Detail, error) {
	q, args, err := s.detailQuery().Select(detailCols...).Where(cond).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	d, err := scanDetail(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) LoanByID(ctx context.Context, id int64) (*Detail, error) {
	return s.loanWhere(ctx, goqu.I("l.id").Eq(id))
}

func (s *Store) LoanByReference(ctx context.Context, ref string) (*Detail, error) {
	return s.loanWhere(ctx, goqu.I("l.reference").Eq(ref))
}

func (s *Store) ListLoans(ctx context.Context, f Filter, p Page) ([]Detail, int64, error) {
	var where []exp.Expression
	if f.UserID != nil {
		where = append(where, goqu.I("l.user_id").Eq(*f.UserID))
	}
	if f.BookID != nil {
		where = append(where, goqu.I("l.book_id").Eq(*f.BookID))
	}
	switch f.Status {
	case StatusOpen:
		where = append(where, goqu.I("l.returned_at").IsNull())
	case StatusReturned:
		where = append(where, goqu.I("l.returned_at").IsNotNull())
	}
	if f.From != nil {
		where = append(where, goqu.I("l.checked_out_at").Gte(f.From.UTC()))
	}
	if f.To != nil {
		where = append(where, goqu.I("l.checked_out_at").Lt(f.To.UTC()))
	}
	ds := s.detailQuery().Where(where...)

	// total
	cq, cargs, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, cq, cargs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := []exp.OrderedExpression{goqu.I("l.checked_out_at").Desc(), goqu.I("l.id").Desc()}
	if p.Order == "asc" {
		order = []exp.OrderedExpression{goqu.I("l.checked_out_at").Asc(), goqu.I("l.id").Asc()}
	}
	lq, largs, err := ds.Select(detailCols...).
		Order(order...).
		Limit(uint(p.Limit)).
		Offset(uint(p.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, lq, largs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Detail, 0, p.Limit)
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (s *Store) BookIDsByTitleKey(ctx context.Context, key string) ([]int64, error) {
	const q = `SELECT id FROM books WHERE title_key = ? ORDER BY id LIMIT 2`
	rows, err := s.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
