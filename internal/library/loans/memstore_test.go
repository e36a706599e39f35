package loans

import (
	"context"
	"sort"
	"sync"
	"time"

	"library-backend/internal/library/inventory"
)

// memStore: テスト用のインメモリ Storage。
// RunAtomic は処理全体でロックを持ち、失敗したらスナップショットに戻す
type memStore struct {
	mu     sync.Mutex
	books  map[int64]inventory.Book
	users  map[int64]User
	loans  map[int64]Loan
	nextID int64

	// 在庫を確保した後の CreateLoan を失敗させる
	failCreate error
}

func newMemStore() *memStore {
	return &memStore{
		books: map[int64]inventory.Book{},
		users: map[int64]User{},
		loans: map[int64]Loan{},
	}
}

func (m *memStore) addBook(b inventory.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

func (m *memStore) addUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[id].Quantity
}

func (m *memStore) loan(id int64) (Loan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	return l, ok
}

func (m *memStore) loanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loans)
}

func (m *memStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	books, loans, nextID := cloneMap(m.books), cloneMap(m.loans), m.nextID
	defer func() {
		if p := recover(); p != nil {
			m.books, m.loans, m.nextID = books, loans, nextID
			panic(p)
		}
		if err != nil {
			m.books, m.loans, m.nextID = books, loans, nextID
		}
	}()
	return fn(ctx, memTx{m})
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) LoanByID(_ context.Context, id int64) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	d := m.detail(l)
	return &d, nil
}

func (m *memStore) LoanByReference(_ context.Context, ref string) (*Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.Reference == ref {
			d := m.detail(l)
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListLoans(_ context.Context, f Filter, p Page) ([]Detail, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Detail
	for _, l := range m.loans {
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if f.BookID != nil && l.BookID != *f.BookID {
			continue
		}
		if f.Status == StatusOpen && l.Returned() || f.Status == StatusReturned && !l.Returned() {
			continue
		}
		// [From, To) で checked_out_at を絞る
		if f.From != nil && l.CheckedOutAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !l.CheckedOutAt.Before(*f.To) {
			continue
		}
		all = append(all, m.detail(l))
	}
	sort.Slice(all, func(i, j int) bool {
		if p.Order == "asc" {
			return all[i].ID < all[j].ID
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	if p.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[p.Offset:]
	if len(all) > p.Limit {
		all = all[:p.Limit]
	}
	return all, total, nil
}

func (m *memStore) BookIDsByTitleKey(_ context.Context, key string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, b := range m.books {
		if inventory.TitleKey(b.Title) == key {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) detail(l Loan) Detail {
	return Detail{Loan: l, User: m.users[l.UserID], Book: m.books[l.BookID]}
}

// memTx: memStore.mu を保持した状態で呼ばれる
type memTx struct{ m *memStore }

func (t memTx) GetBook(_ context.Context, id int64) (*inventory.Book, error) {
	b, ok := t.m.books[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t memTx) AdjustBookStock(_ context.Context, id int64, delta int) (*inventory.Book, error) {
	b, ok := t.m.books[id]
	if !ok {
		return nil, nil
	}
	b.Quantity += delta
	if b.Quantity < 0 {
		panic("stock below zero")
	}
	t.m.books[id] = b
	return &b, nil
}

func (t memTx) GetUser(_ context.Context, id int64) (*User, error) {
	u, ok := t.m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t memTx) GetLoan(_ context.Context, id int64) (*Loan, error) {
	l, ok := t.m.loans[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (t memTx) CreateLoan(_ context.Context, l *Loan) error {
	if t.m.failCreate != nil {
		return t.m.failCreate
	}
	t.m.nextID++
	l.ID = t.m.nextID
	t.m.loans[l.ID] = *l
	return nil
}

func (t memTx) UpdateLoanReturnTime(_ context.Context, id int64, at time.Time) (bool, error) {
	l, ok := t.m.loans[id]
	if !ok || l.Returned() {
		return false, nil
	}
	l.ReturnedAt.Time, l.ReturnedAt.Valid = at, true
	t.m.loans[id] = l
	return true, nil
}

func (t memTx) DeleteLoan(_ context.Context, id int64) (bool, error) {
	if _, ok := t.m.loans[id]; !ok {
		return false, nil
	}
	delete(t.m.loans, id)
	return true, nil
}
