package books

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/db/dbtest"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	return NewService(conn, db.SQLite), conn
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateBookRequest{Title: " Iracema ", Category: "romance"})
	require.NoError(t, err)
	assert.Equal(t, "Iracema", b.Title)
	assert.Zero(t, b.Quantity, "quantity defaults to 0")

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = svc.Get(ctx, 999)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))

	_, err = svc.Create(ctx, CreateBookRequest{Title: "x", Category: "y", Quantity: intPtr(-1)})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))

	_, err = svc.Create(ctx, CreateBookRequest{Title: "  ", Category: "y"})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func TestGetByTitle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateBookRequest{Title: "O Guarani", Category: "romance", Quantity: intPtr(3)})
	require.NoError(t, err)

	got, err := svc.GetByTitle(ctx, "o  guarani")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = svc.GetByTitle(ctx, "Senhora")
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))

	_, err = svc.Create(ctx, CreateBookRequest{Title: "O GUARANI", Category: "ópera"})
	require.NoError(t, err)
	_, err = svc.GetByTitle(ctx, "O Guarani")
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateBookRequest{Title: "Senhora", Category: "romance", Quantity: intPtr(1)})
	require.NoError(t, err)

	up, err := svc.Update(ctx, b.ID, UpdateBookRequest{Quantity: intPtr(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, up.Quantity)
	assert.Equal(t, "Senhora", up.Title, "partial update keeps other fields")

	up, err = svc.Update(ctx, b.ID, UpdateBookRequest{Title: strPtr("Lucíola")})
	require.NoError(t, err)
	assert.Equal(t, "Lucíola", up.Title)
	_, err = svc.GetByTitle(ctx, "luCÍola")
	assert.NoError(t, err, "title key follows the new title")

	_, err = svc.Update(ctx, b.ID, UpdateBookRequest{Quantity: intPtr(-2)})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))

	_, err = svc.Update(ctx, 404, UpdateBookRequest{Category: strPtr("x")})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"A Moreninha", "Macunaíma", "Vidas Secas"} {
		_, err := svc.Create(ctx, CreateBookRequest{Title: title, Category: "romance"})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateBookRequest{Title: "Poemas", Category: "poesia"})
	require.NoError(t, err)

	res, err := svc.List(ctx, SearchQuery{}, Page{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Total)
	assert.Len(t, res.Items, 3)
	assert.Equal(t, "A Moreninha", res.Items[0].Title)
	assert.Equal(t, 3, res.NextOffset)

	cat := "poesia"
	res, err = svc.List(ctx, SearchQuery{Category: &cat}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Poemas", res.Items[0].Title)

	res, err = svc.List(ctx, SearchQuery{Q: "SECAS"}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Vidas Secas", res.Items[0].Title)
}

func TestListCategories(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, in := range []CreateBookRequest{
		{Title: "Iracema", Category: "romance", Quantity: intPtr(2)},
		{Title: "Senhora", Category: "romance", Quantity: intPtr(1)},
		{Title: "Poemas", Category: "poesia"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	list, err := svc.ListCategories(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, CategorySummary{Category: "romance", Books: 2, Copies: 3}, list[0])

	list, err = svc.ListCategories(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, CategorySummary{Category: "poesia", Books: 1, Copies: 0}, list[0])
}

func TestDelete_BlockedByOpenLoan(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	b, err := svc.Create(ctx, CreateBookRequest{Title: "Quincas Borba", Category: "romance", Quantity: intPtr(1)})
	require.NoError(t, err)

	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO users (name, birth_date, email, password_hash, created_at, updated_at)
		VALUES ('Ana', ?, 'ana@example.com', 'x', ?, ?)`, now, now, now)
	require.NoError(t, err)
	uid, _ := res.LastInsertId()
	res, err = conn.Exec(`INSERT INTO loans (reference, user_id, book_id, quantity, reason, contact, checked_out_at)
		VALUES ('01J00000000000000000000001', ?, ?, 1, 'aula', 'x', ?)`, uid, b.ID, now)
	require.NoError(t, err)
	loanID, _ := res.LastInsertId()

	err = svc.Delete(ctx, b.ID)
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))

	_, err = conn.Exec(`UPDATE loans SET returned_at = ? WHERE id = ?`, now, loanID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, b.ID))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM loans`).Scan(&n))
	assert.Zero(t, n, "closed history removed with the book")

	err = svc.Delete(ctx, b.ID)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	r := gin.New()
	g := r.Group("/api/v1")
	RegisterRoutes(g, g, svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/books",
		strings.NewReader(`{"title":"Capitães da Areia","category":"romance","quantity":2}`)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/v1/books/1", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/books/by-title/capit%C3%A3es%20da%20areia", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/books", strings.NewReader(`{"title":"sem categoria"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/books/1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
