package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPage_Consistency(t *testing.T) {
	for total := 0; total <= 250; total += 7 {
		for _, size := range []int{1, 3, 20, 100} {
			totalPages := (total + size - 1) / size
			for page := 1; page <= totalPages+1; page++ {
				p := NewPage(page, size, total)
				assert.Equal(t, totalPages, p.TotalPages)
				assert.Equal(t, page < p.TotalPages, p.HasNext)
				assert.Equal(t, page*size < total, p.HasNext, "total=%d size=%d page=%d", total, size, page)
				assert.Equal(t, page > 1, p.HasPrev)
			}
		}
	}
}

func TestListFilter_Normalize(t *testing.T) {
	f := ListFilter{}
	require.NoError(t, f.Normalize())
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPageSize, f.PageSize)
	assert.Equal(t, SortCreatedAt, f.SortBy)
	assert.Equal(t, "desc", f.SortOrder)
	assert.Equal(t, 0, f.Offset())

	tests := []struct {
		name string
		f    ListFilter
	}{
		{"negative page", ListFilter{Page: -1}},
		{"page size too large", ListFilter{PageSize: 101}},
		{"negative page size", ListFilter{PageSize: -5}},
		{"bad sort field", ListFilter{SortBy: "title"}},
		{"bad sort order", ListFilter{SortOrder: "sideways"}},
		{"bad type", ListFilter{Type: "nope"}},
		{"bad priority", ListFilter{Priority: "critical"}},
		{"bad status", ListFilter{Status: "lost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Normalize()
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	f = ListFilter{Page: 3, PageSize: 10, SortOrder: "ASC"}
	require.NoError(t, f.Normalize())
	assert.Equal(t, "asc", f.SortOrder)
	assert.Equal(t, 20, f.Offset())
}
