package ecgstore

import "testing"

func TestNewPageMeta(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		pg       Pagination
		lastPage int
		hasNext  bool
		hasPrev  bool
	}{
		{"empty set", 0, Pagination{Page: 1, Limit: 10}, 1, false, false},
		{"single partial page", 7, Pagination{Page: 1, Limit: 10}, 1, false, false},
		{"exact multiple", 20, Pagination{Page: 1, Limit: 10}, 2, true, false},
		{"middle page", 25, Pagination{Page: 2, Limit: 10}, 3, true, true},
		{"final page", 25, Pagination{Page: 3, Limit: 10}, 3, false, true},
		{"beyond final page", 25, Pagination{Page: 9, Limit: 10}, 3, false, true},
		{"defaults applied", 25, Pagination{}, 3, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := NewPageMeta(tt.total, tt.pg)
			if meta.LastPage != tt.lastPage {
				t.Errorf("LastPage = %d, want %d", meta.LastPage, tt.lastPage)
			}
			if meta.HasNextPage != tt.hasNext {
				t.Errorf("HasNextPage = %v, want %v", meta.HasNextPage, tt.hasNext)
			}
			if meta.HasPreviousPage != tt.hasPrev {
				t.Errorf("HasPreviousPage = %v, want %v", meta.HasPreviousPage, tt.hasPrev)
			}
			if meta.Total != tt.total {
				t.Errorf("Total = %d, want %d", meta.Total, tt.total)
			}
		})
	}
}

func TestPaginationNormalize(t *testing.T) {
	p := Pagination{Page: 0, Limit: -5}.Normalize()
	if p.Page != DefaultPage || p.Limit != DefaultLimit {
		t.Errorf("Normalize() = %+v", p)
	}

	p = Pagination{Page: 4, Limit: 50}.Normalize()
	if p.Page != 4 || p.Limit != 50 {
		t.Errorf("Normalize() changed valid values: %+v", p)
	}
}
