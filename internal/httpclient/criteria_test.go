package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		query       Query
		expect      map[string]string
		expectError string
	}{
		{
			name:  "defaults for empty query",
			query: Query{},
			expect: map[string]string{
				"searchCriteria[currentPage]": "1",
				"searchCriteria[pageSize]":    "25",
			},
		},
		{
			name:  "page and page size",
			query: Query{Page: 4, PageSize: 50},
			expect: map[string]string{
				"searchCriteria[currentPage]": "4",
				"searchCriteria[pageSize]":    "50",
			},
		},
		{
			name: "multiple sort orders",
			query: Query{
				Sort: []Sort{
					{Field: "created_at", Direction: SortDesc},
					{Field: "sku"},
				},
			},
			expect: map[string]string{
				"searchCriteria[sortOrders][0][field]":     "created_at",
				"searchCriteria[sortOrders][0][direction]": "DESC",
				"searchCriteria[sortOrders][1][field]":     "sku",
				"searchCriteria[sortOrders][1][direction]": "ASC",
			},
		},
		{
			name: "one group per filter",
			query: Query{
				Filters: []Filter{
					{Field: "status", Op: ConditionEq, Value: "processing"},
					{Field: "grand_total", Op: ConditionGteq, Value: 100.0},
				},
			},
			expect: map[string]string{
				"searchCriteria[filterGroups][0][filters][0][field]":          "status",
				"searchCriteria[filterGroups][0][filters][0][value]":          "processing",
				"searchCriteria[filterGroups][0][filters][0][condition_type]": "eq",
				"searchCriteria[filterGroups][1][filters][0][field]":          "grand_total",
				"searchCriteria[filterGroups][1][filters][0][value]":          "100",
				"searchCriteria[filterGroups][1][filters][0][condition_type]": "gteq",
			},
		},
		{
			name: "in condition joins slice values",
			query: Query{
				Filters: []Filter{
					{Field: "sku", Op: ConditionIn, Value: []string{"A", "B", "C"}},
				},
			},
			expect: map[string]string{
				"searchCriteria[filterGroups][0][filters][0][value]":          "A,B,C",
				"searchCriteria[filterGroups][0][filters][0][condition_type]": "in",
			},
		},
		{
			name:  "search becomes a like filter after the explicit filters",
			query: Query{Search: "chair", Filters: []Filter{{Field: "status", Op: ConditionEq, Value: "enabled"}}},
			expect: map[string]string{
				"searchCriteria[filterGroups][1][filters][0][field]":          "name",
				"searchCriteria[filterGroups][1][filters][0][value]":          "%chair%",
				"searchCriteria[filterGroups][1][filters][0][condition_type]": "like",
			},
		},
		{
			name:        "invalid condition type",
			query:       Query{Filters: []Filter{{Field: "sku", Op: "regex", Value: "x"}}},
			expectError: "invalid condition type",
		},
		{
			name:        "empty filter field",
			query:       Query{Filters: []Filter{{Op: ConditionEq, Value: "x"}}},
			expectError: "empty field",
		},
		{
			name:        "invalid sort direction",
			query:       Query{Sort: []Sort{{Field: "sku", Direction: "sideways"}}},
			expectError: "invalid sort direction",
		},
		{
			name:        "empty sort field",
			query:       Query{Sort: []Sort{{}}},
			expectError: "empty field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			params, err := EncodeQuery(tt.query)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			for key, want := range tt.expect {
				assert.Equal(t, want, params.Get(key), key)
			}
		})
	}
}

func TestFormatFilterValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", formatFilterValue("abc"))
	assert.Equal(t, "1,2,3", formatFilterValue([]any{1, 2, 3}))
	assert.Equal(t, "42", formatFilterValue(float64(42)))
	assert.Equal(t, "41.5", formatFilterValue(41.5))
	assert.Equal(t, "true", formatFilterValue(true))
}
