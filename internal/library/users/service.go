package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/db"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーメッセージには json 名を出す
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErr: 最初に落ちたフィールドだけ返す
func validationErr(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return apierr.ErrInvalid(fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return apierr.ErrInvalid("invalid request")
}

type Service struct {
	store *Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(conn *sql.DB, d db.Dialect) *Service {
	return &Service{store: NewStore(conn, d), log: slog.Default(), now: time.Now}
}

func (s *Service) parseBirthDate(v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, apierr.ErrInvalid("birth_date must be YYYY-MM-DD")
	}
	if t.After(s.now().UTC()) {
		return time.Time{}, apierr.ErrInvalid("birth_date must not be in the future")
	}
	return t, nil
}

// Create: role は API からは常に member。admin は CLI からのみ
func (s *Service) Create(ctx context.Context, in CreateUserRequest, role string) (UserResponse, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		return UserResponse{}, validationErr(err)
	}
	if role != auth.RoleMember && role != auth.RoleAdmin {
		return UserResponse{}, apierr.ErrInvalid("unknown role")
	}
	bd, err := s.parseBirthDate(in.BirthDate)
	if err != nil {
		return UserResponse{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return UserResponse{}, apierr.ErrInternal("failed to hash password")
	}

	id, err := s.store.Insert(ctx, &User{Name: in.Name, BirthDate: bd, Email: in.Email, PasswordHash: hash, Role: role})
	if err != nil {
		return UserResponse{}, apierr.AsStorage(err)
	}
	s.log.InfoContext(ctx, "user created", "user_id", id, "role", role)
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (UserResponse, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return UserResponse{}, apierr.Storage(err)
	}
	if u == nil {
		return UserResponse{}, apierr.ErrNotFound("user not found")
	}
	return toResponse(*u), nil
}

func (s *Service) List(ctx context.Context, p Page) (ListUsersResult, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	list, total, err := s.store.List(ctx, p)
	if err != nil {
		return ListUsersResult{}, apierr.Storage(err)
	}
	res := ListUsersResult{Items: make([]UserResponse, 0, len(list)), Total: total}
	for _, u := range list {
		res.Items = append(res.Items, toResponse(u))
	}
	if next := p.Offset + len(list); int64(next) < total {
		res.NextOffset = next
	}
	return res, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateUserRequest) (UserResponse, error) {
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		if v == "" {
			return UserResponse{}, apierr.ErrInvalid("name must not be empty")
		}
		in.Name = &v
	}
	if in.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*in.Email))
		in.Email = &v
	}
	if err := validate.Struct(in); err != nil {
		return UserResponse{}, validationErr(err)
	}

	p := userPatch{Name: in.Name, Email: in.Email}
	if in.BirthDate != nil {
		bd, err := s.parseBirthDate(*in.BirthDate)
		if err != nil {
			return UserResponse{}, err
		}
		p.BirthDate = &bd
	}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return UserResponse{}, apierr.ErrInternal("failed to hash password")
		}
		p.PasswordHash = &hash
	}

	u, err := s.store.Update(ctx, id, p)
	if err != nil {
		return UserResponse{}, apierr.AsStorage(err)
	}
	if u == nil {
		return UserResponse{}, apierr.ErrNotFound("user not found")
	}
	return toResponse(*u), nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return apierr.AsStorage(err)
	}
	s.log.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}
