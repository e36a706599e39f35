package loans

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/library/inventory"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/db/dbtest"
)

func seed(t *testing.T, conn *sql.DB, stock int) (userID, bookID int64) {
	t.Helper()
	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO users (name, birth_date, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'member', ?, ?)`, "Ana", time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), "ana@example.com", "x", now, now)
	require.NoError(t, err)
	userID, _ = res.LastInsertId()

	res, err = conn.Exec(`INSERT INTO books (title, title_key, category, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, "O Cortiço", inventory.TitleKey("O Cortiço"), "romance", stock, now, now)
	require.NoError(t, err)
	bookID, _ = res.LastInsertId()
	return userID, bookID
}

func bookStock(t *testing.T, conn *sql.DB, id int64) int {
	t.Helper()
	var q int
	require.NoError(t, conn.QueryRow(`SELECT quantity FROM books WHERE id = ?`, id).Scan(&q))
	return q
}

func newSQLiteService(t *testing.T, stock int) (*Service, *sql.DB, int64, int64) {
	t.Helper()
	conn := dbtest.Open(t)
	uid, bid := seed(t, conn, stock)
	return NewService(NewStore(conn, db.SQLite)), conn, uid, bid
}

func TestStore_CheckoutReturn(t *testing.T) {
	svc, conn, uid, bid := newSQLiteService(t, 5)
	ctx := context.Background()

	out, err := svc.Checkout(ctx, CheckoutRequest{UserID: uid, BookID: bid, Quantity: 2, Reason: "aula", Contact: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, bookStock(t, conn, bid))
	assert.Equal(t, "Ana", out.User.Name)
	assert.Equal(t, 3, out.Book.Quantity)

	got, err := svc.Get(ctx, out.Reference)
	require.NoError(t, err)
	assert.Equal(t, out.ID, got.ID)
	assert.True(t, got.CheckedOutAt.Equal(out.CheckedOutAt))
	assert.Nil(t, got.ReturnedAt)

	ret, err := svc.Return(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, bookStock(t, conn, bid))
	require.NotNil(t, ret.ReturnedAt)
	assert.False(t, ret.ReturnedAt.Before(ret.CheckedOutAt))

	_, err = svc.Return(ctx, out.ID)
	assert.Equal(t, apierr.CodeAlreadyReturned, apierr.CodeOf(err))
	assert.Equal(t, 5, bookStock(t, conn, bid))
}

func TestStore_InsufficientStockRollsBack(t *testing.T) {
	svc, conn, uid, bid := newSQLiteService(t, 1)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, CheckoutRequest{UserID: uid, BookID: bid, Quantity: 2, Reason: "aula", Contact: "x"})
	assert.Equal(t, apierr.CodeInsufficientStock, apierr.CodeOf(err))
	assert.Equal(t, 1, bookStock(t, conn, bid))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM loans`).Scan(&n))
	assert.Zero(t, n)
}

func TestStore_ConcurrentLastCopy(t *testing.T) {
	svc, conn, uid, bid := newSQLiteService(t, 1)

	const n = 8
	var (
		wg           sync.WaitGroup
		ok, rejected atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), CheckoutRequest{UserID: uid, BookID: bid, Quantity: 1, Reason: "aula", Contact: "x"})
			switch {
			case err == nil:
				ok.Add(1)
			case apierr.Is(err, apierr.CodeInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), rejected.Load())
	assert.Equal(t, 0, bookStock(t, conn, bid))
}

func TestStore_DeleteKeepsStock(t *testing.T) {
	svc, conn, uid, bid := newSQLiteService(t, 4)
	ctx := context.Background()

	out, err := svc.Checkout(ctx, CheckoutRequest{UserID: uid, BookID: bid, Quantity: 3, Reason: "aula", Contact: "x"})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bookStock(t, conn, bid))

	_, err = svc.Get(ctx, out.Reference)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestStore_ListFilters(t *testing.T) {
	svc, _, uid, bid := newSQLiteService(t, 10)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		out, err := svc.Checkout(ctx, CheckoutRequest{UserID: uid, BookID: bid, Quantity: 1, Reason: "aula", Contact: "x"})
		require.NoError(t, err)
		ids = append(ids, out.ID)
	}
	_, err := svc.Return(ctx, ids[0])
	require.NoError(t, err)

	all, err := svc.List(ctx, Filter{}, Page{Limit: 2, Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	require.Len(t, all.Items, 2)
	assert.Equal(t, ids[0], all.Items[0].ID)
	assert.Equal(t, 2, all.NextOffset)

	open, err := svc.List(ctx, Filter{Status: StatusOpen}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), open.Total)

	returned, err := svc.List(ctx, Filter{Status: StatusReturned, BookID: &bid}, Page{})
	require.NoError(t, err)
	require.Len(t, returned.Items, 1)
	assert.Equal(t, ids[0], returned.Items[0].ID)

	future := time.Now().Add(time.Hour)
	none, err := svc.List(ctx, Filter{From: &future}, Page{})
	require.NoError(t, err)
	assert.Zero(t, none.Total)
	assert.Empty(t, none.Items)

	past := time.Now().Add(-time.Hour)
	since, err := svc.List(ctx, Filter{From: &past}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), since.Total)

	before, err := svc.List(ctx, Filter{To: &past}, Page{})
	require.NoError(t, err)
	assert.Zero(t, before.Total)

	window, err := svc.List(ctx, Filter{From: &past, To: &future, Status: StatusOpen}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), window.Total)
}

func TestStore_CheckoutByTitle(t *testing.T) {
	svc, _, uid, bid := newSQLiteService(t, 2)

	out, err := svc.Checkout(context.Background(), CheckoutRequest{UserID: uid, BookTitle: "o cortiço", Quantity: 1, Reason: "aula", Contact: "x"})
	require.NoError(t, err)
	assert.Equal(t, bid, out.Book.ID)
}

func TestStore_ConcurrentMixedQuantities(t *testing.T) {
	const stock = 5
	svc, conn, uid, bid := newSQLiteService(t, stock)

	qtys := []int{2, 3, 1, 2, 4, 1, 3}
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for _, q := range qtys {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), CheckoutRequest{UserID: uid, BookID: bid, Quantity: q, Reason: "aula", Contact: "x"})
			switch {
			case err == nil:
				granted.Add(int64(q))
			case apierr.Is(err, apierr.CodeInsufficientStock):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(q)
	}
	wg.Wait()

	got := int(granted.Load())
	assert.LessOrEqual(t, got, stock)
	assert.Equal(t, stock-got, bookStock(t, conn, bid))

	var out int
	require.NoError(t, conn.QueryRow(`SELECT COALESCE(SUM(quantity), 0) FROM loans WHERE returned_at IS NULL`).Scan(&out))
	assert.Equal(t, got, out, "loan rows match the granted copies")
}

func TestStore_ConcurrentDoubleReturn(t *testing.T) {
	svc, conn, uid, bid := newSQLiteService(t, 4)
	out, err := svc.Checkout(context.Background(), CheckoutRequest{UserID: uid, BookID: bid, Quantity: 2, Reason: "aula", Contact: "x"})
	require.NoError(t, err)

	const n = 6
	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Return(context.Background(), out.ID)
			if err == nil {
				ok.Add(1)
			} else if !apierr.Is(err, apierr.CodeAlreadyReturned) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, 4, bookStock(t, conn, bid))
}
