package loans

import (
	"context"
	"crypto/rand"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"library-backend/internal/library/inventory"
	"library-backend/internal/platform/apierr"
)

const instrumentation = "library-backend/loans"

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// -------------- Service --------------

type Option func(*Service)

func WithClock(c Clock) Option         { return func(s *Service) { s.clock = c } }
func WithIDGen(g IDGen) Option         { return func(s *Service) { s.id = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMeterProvider: 既定はグローバル（telemetry.Setup が差し替える）
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meters = mp }
}

type Service struct {
	store  Storage
	ledger *inventory.Ledger
	clock  Clock
	id     IDGen
	log    *slog.Logger
	tracer trace.Tracer
	meters metric.MeterProvider
	ops    metric.Int64Counter
	copies metric.Int64UpDownCounter
}

func NewService(store Storage, opts ...Option) *Service {
	s := &Service{
		store:  store,
		clock:  realClock{},
		id:     ulidGen{},
		log:    slog.Default(),
		tracer: otel.Tracer(instrumentation),
		meters: otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ledger = inventory.NewLedger(s.log)

	meter := s.meters.Meter(instrumentation)
	var err error
	if s.ops, err = meter.Int64Counter("library.loan.operations",
		metric.WithDescription("Loan workflow calls by operation and outcome")); err != nil {
		s.log.Warn("loan operations counter unavailable", "error", err)
	}
	if s.copies, err = meter.Int64UpDownCounter("library.loan.copies_out",
		metric.WithDescription("Copies currently held by open loans, relative to process start")); err != nil {
		s.log.Warn("loan copies counter unavailable", "error", err)
	}
	return s
}

// POST /loans
func (s *Service) Checkout(ctx context.Context, in CheckoutRequest) (LoanResponse, error) {
	ctx, span := s.tracer.Start(ctx, "loans.Checkout", trace.WithAttributes(
		attribute.Int64("loan.user_id", in.UserID),
		attribute.Int64("loan.book_id", in.BookID),
		attribute.Int("loan.quantity", in.Quantity),
	))
	defer span.End()

	d, err := s.checkout(ctx, in)
	s.finish(ctx, span, "checkout", err)
	if err != nil {
		return LoanResponse{}, err
	}
	s.moveCopies(ctx, int64(d.Quantity))
	s.log.InfoContext(ctx, "loan checked out",
		"loan_id", d.ID, "reference", d.Reference, "user_id", d.UserID, "book_id", d.BookID, "quantity", d.Quantity)
	return toResponse(d), nil
}

func (s *Service) checkout(ctx context.Context, in CheckoutRequest) (Detail, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	in.Contact = strings.TrimSpace(in.Contact)
	if err := validateCheckout(in); err != nil {
		return Detail{}, err
	}

	bookID := in.BookID
	if bookID == 0 {
		id, err := s.resolveTitle(ctx, in.BookTitle)
		if err != nil {
			return Detail{}, err
		}
		bookID = id
	}

	now := s.now()
	l := &Loan{
		Reference:    s.id.NewULID(now),
		UserID:       in.UserID,
		BookID:       bookID,
		Quantity:     in.Quantity,
		Reason:       in.Reason,
		Contact:      in.Contact,
		CheckedOutAt: now,
	}

	var d Detail
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, l.UserID)
		if err != nil {
			return apierr.AsStorage(err)
		}
		if u == nil {
			return apierr.ErrNotFound("user not found")
		}

		b, err := s.ledger.Reserve(ctx, tx, l.BookID, l.Quantity)
		if err != nil {
			return err
		}
		if err := tx.CreateLoan(ctx, l); err != nil {
			return apierr.AsStorage(err)
		}
		d = Detail{Loan: *l, User: *u, Book: *b}
		return nil
	})
	if err != nil {
		return Detail{}, apierr.AsStorage(err)
	}
	return d, nil
}

func validateCheckout(in CheckoutRequest) error {
	switch {
	case in.UserID <= 0:
		return apierr.ErrInvalid("user_id required")
	case in.BookID < 0:
		return apierr.ErrInvalid("book_id must be > 0")
	case in.BookID == 0 && strings.TrimSpace(in.BookTitle) == "":
		return apierr.ErrInvalid("book_id required")
	case in.Quantity <= 0:
		return apierr.ErrInvalid("quantity must be > 0")
	case in.Reason == "":
		return apierr.ErrInvalid("reason required")
	case in.Contact == "":
		return apierr.ErrInvalid("contact required")
	}
	return nil
}

// resolveTitle: タイトル別名 -> book id。0件は NotFound、複数件は Conflict
func (s *Service) resolveTitle(ctx context.Context, title string) (int64, error) {
	ids, err := s.store.BookIDsByTitleKey(ctx, inventory.TitleKey(title))
	if err != nil {
		return 0, apierr.AsStorage(err)
	}
	switch len(ids) {
	case 0:
		return 0, apierr.ErrNotFound("book not found")
	case 1:
		return ids[0], nil
	default:
		return 0, apierr.ErrConflict("title matches more than one book, use book_id")
	}
}

// PUT /loans/:id/return
func (s *Service) Return(ctx context.Context, id int64) (LoanResponse, error) {
	ctx, span := s.tracer.Start(ctx, "loans.Return", trace.WithAttributes(attribute.Int64("loan.id", id)))
	defer span.End()

	d, err := s.returnLoan(ctx, id)
	s.finish(ctx, span, "return", err)
	if err != nil {
		return LoanResponse{}, err
	}
	s.moveCopies(ctx, -int64(d.Quantity))
	s.log.InfoContext(ctx, "loan returned", "loan_id", d.ID, "book_id", d.BookID, "quantity", d.Quantity)
	return toResponse(d), nil
}

func (s *Service) returnLoan(ctx context.Context, id int64) (Detail, error) {
	if id <= 0 {
		return Detail{}, apierr.ErrInvalid("invalid loan id")
	}

	var d Detail
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx Tx) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return apierr.AsStorage(err)
		}
		if l == nil {
			return apierr.ErrNotFound("loan not found")
		}
		if l.Returned() {
			return apierr.ErrAlreadyReturned("loan already returned")
		}

		at := s.now()
		if at.Before(l.CheckedOutAt) {
			at = l.CheckedOutAt
		}
		ok, err := tx.UpdateLoanReturnTime(ctx, id, at)
		if err != nil {
			return apierr.AsStorage(err)
		}
		if !ok {
			return apierr.ErrAlreadyReturned("loan already returned")
		}
		l.ReturnedAt = sql.NullTime{Time: at, Valid: true}

		b, err := s.ledger.Release(ctx, tx, l.BookID, l.Quantity)
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, l.UserID)
		if err != nil {
			return apierr.AsStorage(err)
		}
		d = Detail{Loan: *l, Book: *b}
		if u != nil {
			d.User = *u
		}
		return nil
	})
	if err != nil {
		return Detail{}, apierr.AsStorage(err)
	}
	return d, nil
}

// DELETE /loans/:id
// 在庫は戻さない（管理者による記録の訂正扱い）
func (s *Service) Delete(ctx context.Context, id int64) (LoanResponse, error) {
	ctx, span := s.tracer.Start(ctx, "loans.Delete", trace.WithAttributes(attribute.Int64("loan.id", id)))
	defer span.End()

	d, err := s.deleteLoan(ctx, id)
	s.finish(ctx, span, "delete", err)
	if err != nil {
		return LoanResponse{}, err
	}
	if !d.Returned() {
		s.moveCopies(ctx, -int64(d.Quantity))
		s.log.WarnContext(ctx, "open loan deleted, stock not restored",
			"loan_id", d.ID, "book_id", d.BookID, "quantity", d.Quantity)
	} else {
		s.log.InfoContext(ctx, "loan deleted", "loan_id", d.ID)
	}
	return toResponse(d), nil
}

func (s *Service) deleteLoan(ctx context.Context, id int64) (Detail, error) {
	if id <= 0 {
		return Detail{}, apierr.ErrInvalid("invalid loan id")
	}

	var d Detail
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx Tx) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return apierr.AsStorage(err)
		}
		if l == nil {
			return apierr.ErrNotFound("loan not found")
		}
		u, err := tx.GetUser(ctx, l.UserID)
		if err != nil {
			return apierr.AsStorage(err)
		}
		b, err := tx.GetBook(ctx, l.BookID)
		if err != nil {
			return apierr.AsStorage(err)
		}

		ok, err := tx.DeleteLoan(ctx, id)
		if err != nil {
			return apierr.AsStorage(err)
		}
		if !ok {
			return apierr.ErrNotFound("loan not found")
		}

		d = Detail{Loan: *l}
		if u != nil {
			d.User = *u
		}
		if b != nil {
			d.Book = *b
		}
		return nil
	})
	if err != nil {
		return Detail{}, apierr.AsStorage(err)
	}
	return d, nil
}

// GET /loans/:key
// 数値なら id、それ以外は ULID の reference として引く
func (s *Service) Get(ctx context.Context, key string) (LoanResponse, error) {
	var (
		d   *Detail
		err error
	)
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil {
		if id <= 0 {
			return LoanResponse{}, apierr.ErrInvalid("invalid loan id")
		}
		d, err = s.store.LoanByID(ctx, id)
	} else {
		ref, perr := ulid.ParseStrict(key)
		if perr != nil {
			return LoanResponse{}, apierr.ErrInvalid("invalid loan key")
		}
		d, err = s.store.LoanByReference(ctx, ref.String())
	}
	if err != nil {
		return LoanResponse{}, apierr.AsStorage(err)
	}
	if d == nil {
		return LoanResponse{}, apierr.ErrNotFound("loan not found")
	}
	return toResponse(*d), nil
}

// GET /loans
func (s *Service) List(ctx context.Context, f Filter, p Page) (ListLoansResult, error) {
	switch f.Status {
	case "", StatusOpen, StatusReturned:
	default:
		return ListLoansResult{}, apierr.ErrInvalid("status must be open or returned")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return ListLoansResult{}, apierr.ErrInvalid("to must not be before from")
	}
	p = normalizePage(p)

	items, total, err := s.store.ListLoans(ctx, f, p)
	if err != nil {
		return ListLoansResult{}, apierr.AsStorage(err)
	}

	res := ListLoansResult{Items: make([]LoanResponse, 0, len(items)), Total: total}
	for _, d := range items {
		res.Items = append(res.Items, toResponse(d))
	}
	if next := p.Offset + len(items); int64(next) < total {
		res.NextOffset = next
	}
	return res, nil
}

func normalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

// -------------- helpers --------------

// MySQL の DATETIME(6) に合わせてマイクロ秒で切る
func (s *Service) now() time.Time { return s.clock.Now().UTC().Truncate(time.Microsecond) }

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apierr.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if s.ops != nil {
		s.ops.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
}

func (s *Service) moveCopies(ctx context.Context, n int64) {
	if s.copies != nil {
		s.copies.Add(ctx, n)
	}
}
