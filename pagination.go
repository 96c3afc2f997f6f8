package ecgstore

import "math"

// Pagination carries the page/limit pair of an offset-paginated query
type Pagination struct {
	Page  int
	Limit int
}

// Normalize applies defaults and floors: page and limit are never below 1
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	return p
}

// PageMeta describes where a page sits inside the full result set
type PageMeta struct {
	Total           int  `json:"total"`
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	LastPage        int  `json:"lastPage"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// NewPageMeta computes pagination metadata. An empty result set still
// reports lastPage 1 so clients can render "page 1 of 1".
func NewPageMeta(total int, p Pagination) PageMeta {
	p = p.Normalize()

	lastPage := int(math.Ceil(float64(total) / float64(p.Limit)))
	if lastPage < 1 {
		lastPage = 1
	}

	return PageMeta{
		Total:           total,
		Page:            p.Page,
		Limit:           p.Limit,
		LastPage:        lastPage,
		HasNextPage:     p.Page < lastPage,
		HasPreviousPage: p.Page > 1,
	}
}

// Page is one page of an offset-paginated listing
type Page[T Entity] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

// CursorPage is one page of a cursor-paginated listing. NextCursor is
// empty on the final page.
type CursorPage[T Entity] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}
