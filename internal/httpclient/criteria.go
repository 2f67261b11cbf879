package httpclient

import (
	"fmt"
	"net/url"
)

// Condition types accepted by the upstream search criteria encoding.
const (
	ConditionEq   = "eq"
	ConditionGt   = "gt"
	ConditionLt   = "lt"
	ConditionGteq = "gteq"
	ConditionLteq = "lteq"
	ConditionIn   = "in"
	ConditionLike = "like"
)

// searchField is the attribute a free-text Query.Search is matched against.
// The commerce API has no dedicated full-text parameter, so search is
// encoded as a like-filter on the name attribute.
const searchField = "name"

var validConditions = map[string]struct{}{
	ConditionEq:   {},
	ConditionGt:   {},
	ConditionLt:   {},
	ConditionGteq: {},
	ConditionLteq: {},
	ConditionIn:   {},
	ConditionLike: {},
}

// EncodeQuery translates a Query into the commerce API's searchCriteria
// query-parameter encoding: one filter group per filter (groups combine with
// AND), one filter per group.
func EncodeQuery(q Query) (url.Values, error) {
	params := url.Values{}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	params.Set("searchCriteria[currentPage]", fmt.Sprintf("%d", page))
	params.Set("searchCriteria[pageSize]", fmt.Sprintf("%d", pageSize))

	for i, s := range q.Sort {
		if s.Field == "" {
			return nil, fmt.Errorf("sort order %d has an empty field", i)
		}
		direction := "ASC"
		if s.Direction == SortDesc {
			direction = "DESC"
		} else if s.Direction != "" && s.Direction != SortAsc {
			return nil, fmt.Errorf("invalid sort direction %q for field %s", s.Direction, s.Field)
		}
		params.Set(fmt.Sprintf("searchCriteria[sortOrders][%d][field]", i), s.Field)
		params.Set(fmt.Sprintf("searchCriteria[sortOrders][%d][direction]", i), direction)
	}

	group := 0
	for _, f := range q.Filters {
		if f.Field == "" {
			return nil, fmt.Errorf("filter group %d has an empty field", group)
		}
		if _, ok := validConditions[f.Op]; !ok {
			return nil, fmt.Errorf("invalid condition type %q for field %s", f.Op, f.Field)
		}
		setFilterGroup(params, group, f.Field, f.Op, formatFilterValue(f.Value))
		group++
	}

	if q.Search != "" {
		setFilterGroup(params, group, searchField, ConditionLike, "%"+q.Search+"%")
	}

	return params, nil
}

func setFilterGroup(params url.Values, group int, field, condition, value string) {
	prefix := fmt.Sprintf("searchCriteria[filterGroups][%d][filters][0]", group)
	params.Set(prefix+"[field]", field)
	params.Set(prefix+"[value]", value)
	params.Set(prefix+"[condition_type]", condition)
}

// formatFilterValue renders a filter value for the query string. Slices are
// joined with commas for the in-condition; everything else uses the default
// formatting.
func formatFilterValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		out := ""
		for i, s := range val {
			if i > 0 {
				out += ","
			}
			out += s
		}
		return out
	case []any:
		out := ""
		for i, s := range val {
			if i > 0 {
				out += ","
			}
			out += fmt.Sprintf("%v", s)
		}
		return out
	case float64:
		// JSON numbers decode to float64; avoid the exponent notation
		// fmt would pick for large values.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
