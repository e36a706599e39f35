package loans

import "time"

// POST /loans
// book_id が正。book_title は一意に決まるときだけ使える別名
type CheckoutRequest struct {
	UserID    int64  `json:"user_id"`
	BookID    int64  `json:"book_id"`
	BookTitle string `json:"book_title"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	Contact   string `json:"contact"`
}

type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type BookSummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

type LoanResponse struct {
	ID           int64       `json:"id"`
	Reference    string      `json:"reference"`
	User         UserSummary `json:"user"`
	Book         BookSummary `json:"book"`
	Quantity     int         `json:"quantity"`
	Reason       string      `json:"reason"`
	Contact      string      `json:"contact"`
	CheckedOutAt time.Time   `json:"checked_out_at"`
	ReturnedAt   *time.Time  `json:"returned_at"`
	Returned     bool        `json:"returned"`
}

type ListLoansResult struct {
	Items      []LoanResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"` // 0 = 末尾
}

func toResponse(d Detail) LoanResponse {
	r := LoanResponse{
		ID:        d.ID,
		Reference: d.Reference,
		User: UserSummary{
			ID:    d.User.ID,
			Name:  d.User.Name,
			Email: d.User.Email,
		},
		Book: BookSummary{
			ID:       d.Book.ID,
			Title:    d.Book.Title,
			Category: d.Book.Category,
			Quantity: d.Book.Quantity,
		},
		Quantity:     d.Quantity,
		Reason:       d.Reason,
		Contact:      d.Contact,
		CheckedOutAt: d.CheckedOutAt.UTC(),
		Returned:     d.Returned(),
	}
	if d.ReturnedAt.Valid {
		t := d.ReturnedAt.Time.UTC()
		r.ReturnedAt = &t
	}
	return r
}
