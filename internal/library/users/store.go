package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewStore(conn *sql.DB, d db.Dialect) *Store { return &Store{db: conn, dialect: d} }

const userCols = `u.id, u.name, u.birth_date, u.email, u.password_hash, u.role, u.created_at, u.updated_at,
	(SELECT COUNT(*) FROM loans l WHERE l.user_id = u.id AND l.returned_at IS NULL)`

func scanUser(r interface{ Scan(...any) error }) (User, error) {
	var u User
	err := r.Scan(&u.ID, &u.Name, &u.BirthDate, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt, &u.OpenLoans)
	return u, err
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// 一意制約違反は Conflict に寄せる
func mapWriteErr(err error) error {
	if db.IsDuplicateKey(err) {
		return apierr.ErrConflict("email already registered")
	}
	return err
}

func (s *Store) Insert(ctx context.Context, u *User) (int64, error) {
	const q = `
	INSERT INTO users (name, birth_date, email, password_hash, role, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	t := now()
	res, err := s.db.ExecContext(ctx, q, u.Name, u.BirthDate, u.Email, u.PasswordHash, u.Role, t, t)
	if err != nil {
		return 0, mapWriteErr(err)
	}
	return res.LastInsertId()
}

func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) List(ctx context.Context, p Page) ([]User, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users u ORDER BY u.id LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}
	return list, total, rows.Err()
}

type userPatch struct {
	Name         *string
	BirthDate    *time.Time
	Email        *string
	PasswordHash *string
}

func (s *Store) Update(ctx context.Context, id int64, p userPatch) (*User, error) {
	// 動的アップデート
	sets := []string{}
	args := []any{}
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.BirthDate != nil {
		sets = append(sets, "birth_date = ?")
		args = append(args, *p.BirthDate)
	}
	if p.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *p.Email)
	}
	if p.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *p.PasswordHash)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id = ?`, strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// Delete: 貸出中があれば Conflict。返却済みの履歴は ON DELETE CASCADE で消える
func (s *Store) Delete(ctx context.Context, id int64) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var got int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?`+s.dialect.ForUpdate(), id).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			return apierr.ErrNotFound("user not found")
		}
		if err != nil {
			return err
		}

		var open int
		const cq = `SELECT COUNT(*) FROM loans WHERE user_id = ? AND returned_at IS NULL`
		if err := tx.QueryRowContext(ctx, cq, id).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return apierr.ErrConflict("user has open loans")
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		return err
	})
}
