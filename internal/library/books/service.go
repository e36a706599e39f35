package books

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"library-backend/internal/library/inventory"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
)

type Service struct {
	store *Store
	log   *slog.Logger
}

func NewService(conn *sql.DB, d db.Dialect) *Service {
	return &Service{store: NewStore(conn, d), log: slog.Default()}
}

func (s *Service) Create(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	if in.Title == "" || in.Category == "" {
		return BookResponse{}, apierr.ErrInvalid("title and category are required")
	}
	qty := 0
	if in.Quantity != nil {
		qty = *in.Quantity
	}
	if qty < 0 {
		return BookResponse{}, apierr.ErrInvalid("quantity must be >= 0")
	}

	id, err := s.store.Insert(ctx, in.Title, in.Category, qty)
	if err != nil {
		return BookResponse{}, apierr.Storage(err)
	}
	s.log.InfoContext(ctx, "book created", "book_id", id, "quantity", qty)
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (BookResponse, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return BookResponse{}, apierr.Storage(err)
	}
	if b == nil {
		return BookResponse{}, apierr.ErrNotFound("book not found")
	}
	return *b, nil
}

// GetByTitle: タイトル別名。複数ヒットは Conflict（id で引き直してもらう）
func (s *Service) GetByTitle(ctx context.Context, title string) (BookResponse, error) {
	key := inventory.TitleKey(title)
	if key == "" {
		return BookResponse{}, apierr.ErrInvalid("title required")
	}
	list, err := s.store.ListByTitleKey(ctx, key)
	if err != nil {
		return BookResponse{}, apierr.Storage(err)
	}
	switch len(list) {
	case 0:
		return BookResponse{}, apierr.ErrNotFound("book not found")
	case 1:
		return list[0], nil
	default:
		return BookResponse{}, apierr.ErrConflict("title matches more than one book, use id")
	}
}

func (s *Service) List(ctx context.Context, q SearchQuery, p Page) (ListBooksResult, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	items, total, err := s.store.List(ctx, q, p)
	if err != nil {
		return ListBooksResult{}, apierr.Storage(err)
	}
	res := ListBooksResult{Items: items, Total: total}
	if next := p.Offset + len(items); int64(next) < total {
		res.NextOffset = next
	}
	return res, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateBookRequest) (BookResponse, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return BookResponse{}, apierr.ErrInvalid("title must not be empty")
		}
		in.Title = &t
	}
	if in.Category != nil {
		c := strings.TrimSpace(*in.Category)
		if c == "" {
			return BookResponse{}, apierr.ErrInvalid("category must not be empty")
		}
		in.Category = &c
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return BookResponse{}, apierr.ErrInvalid("quantity must be >= 0")
	}

	b, err := s.store.Update(ctx, id, in)
	if err != nil {
		return BookResponse{}, apierr.Storage(err)
	}
	if b == nil {
		return BookResponse{}, apierr.ErrNotFound("book not found")
	}
	if in.Quantity != nil {
		s.log.InfoContext(ctx, "book stock set", "book_id", id, "quantity", *in.Quantity)
	}
	return *b, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return apierr.AsStorage(err)
	}
	s.log.InfoContext(ctx, "book deleted", "book_id", id)
	return nil
}

func (s *Service) ListCategories(ctx context.Context, includeEmpty bool) ([]CategorySummary, error) {
	list, err := s.store.ListCategories(ctx, includeEmpty)
	if err != nil {
		return nil, apierr.Storage(err)
	}
	return list, nil
}
