package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"library-backend/internal/library/inventory"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewStore(conn *sql.DB, d db.Dialect) *Store { return &Store{db: conn, dialect: d} }

const bookCols = `id, title, category, quantity, created_at, updated_at`

func scanBook(r interface{ Scan(...any) error }) (BookResponse, error) {
	var b BookResponse
	err := r.Scan(&b.ID, &b.Title, &b.Category, &b.Quantity, &b.CreatedAt, &b.UpdatedAt)
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return b, err
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func (s *Store) Insert(ctx context.Context, title, category string, quantity int) (int64, error) {
	const q = `
	INSERT INTO books (title, title_key, category, quantity, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	t := now()
	res, err := s.db.ExecContext(ctx, q, title, inventory.TitleKey(title), category, quantity, t, t)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetByID(ctx context.Context, id int64) (*BookResponse, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookCols+` FROM books WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ListByTitleKey: 別名検索。呼び出し側で件数を見て一意性を判断する
func (s *Store) ListByTitleKey(ctx context.Context, key string) ([]BookResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookCols+` FROM books WHERE title_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []BookResponse{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (s *Store) Update(ctx context.Context, id int64, in UpdateBookRequest) (*BookResponse, error) {
	// 動的アップデート
	sets := []string{}
	args := []any{}
	if in.Title != nil {
		sets = append(sets, "title = ?", "title_key = ?")
		args = append(args, *in.Title, inventory.TitleKey(*in.Title))
	}
	if in.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *in.Category)
	}
	if in.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *in.Quantity)
	}
	if len(sets) == 0 {
		// 変更なしでも現行値を返す
		return s.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)
	q := fmt.Sprintf(`UPDATE books SET %s WHERE id = ?`, strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, q SearchQuery, p Page) ([]BookResponse, int64, error) {
	var where strings.Builder
	args := []any{}
	where.WriteString(" WHERE 1=1")
	if q.Category != nil && *q.Category != "" {
		where.WriteString(" AND category = ?")
		args = append(args, *q.Category)
	}
	if q.Q != "" {
		where.WriteString(" AND title_key LIKE ?")
		args = append(args, "%"+inventory.TitleKey(q.Q)+"%")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books"+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "ASC"
	if strings.ToLower(p.Order) == "desc" {
		order = "DESC"
	}
	query := "SELECT " + bookCols + " FROM books" + where.String() + " ORDER BY id " + order + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := []BookResponse{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, b)
	}
	return list, total, rows.Err()
}

// Delete: 貸出中があれば Conflict。返却済みの履歴は ON DELETE CASCADE で消える
func (s *Store) Delete(ctx context.Context, id int64) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var got int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM books WHERE id = ?`+s.dialect.ForUpdate(), id).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			return apierr.ErrNotFound("book not found")
		}
		if err != nil {
			return err
		}

		var open int
		const cq = `SELECT COUNT(*) FROM loans WHERE book_id = ? AND returned_at IS NULL`
		if err := tx.QueryRowContext(ctx, cq, id).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return apierr.ErrConflict("book has open loans")
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
		return err
	})
}

// GET /categories?all=1
func (s *Store) ListCategories(ctx context.Context, includeEmpty bool) ([]CategorySummary, error) {
	q := `
		SELECT category, COUNT(*), COALESCE(SUM(quantity), 0)
		FROM books
		GROUP BY category
	`
	if !includeEmpty {
		q += ` HAVING SUM(quantity) > 0`
	}
	q += ` ORDER BY category`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]CategorySummary, 0, 16)
	for rows.Next() {
		var c CategorySummary
		if err := rows.Scan(&c.Category, &c.Books, &c.Copies); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
