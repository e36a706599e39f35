package books

import "time"

// ===== Requests =====

type CreateBookRequest struct {
	Title    string `json:"title" binding:"required"`
	Category string `json:"category" binding:"required"`
	Quantity *int   `json:"quantity,omitempty"` // 省略時 0
}

type UpdateBookRequest struct {
	Title    *string `json:"title,omitempty"`
	Category *string `json:"category,omitempty"`
	Quantity *int    `json:"quantity,omitempty"` // >=0、棚の在庫をそのまま上書き
}

// ===== Responses =====

type BookResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ListBooksResult struct {
	Items      []BookResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"`
}

// ===== Query =====

type Page struct {
	Limit  int
	Offset int
	Order  string // id asc | desc
}

type SearchQuery struct {
	Category *string
	Q        string // タイトル部分一致
}

// カテゴリ一覧（在庫ゼロのカテゴリも含める場合は all=1）
type CategorySummary struct {
	Category string `json:"category"`
	Books    int    `json:"books"`
	Copies   int    `json:"copies"`
}
