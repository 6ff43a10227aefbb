package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginatedRequest(t *testing.T) {
	cases := []struct {
		name        string
		req         PaginatedRequest
		page, limit int
		wantOffset  int
	}{
		{"defaults", PaginatedRequest{}, 1, 10, 0},
		{"third page", PaginatedRequest{Page: 3, PerPage: 20}, 3, 20, 40},
		{"per_page is capped", PaginatedRequest{Page: 2, PerPage: 500}, 2, 100, 100},
		{"negative page", PaginatedRequest{Page: -4, PerPage: 5}, 1, 5, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.page, tc.req.CurrentPage())
			assert.Equal(t, tc.limit, tc.req.Limit())
			assert.Equal(t, tc.wantOffset, tc.req.Offset())
		})
	}
}
