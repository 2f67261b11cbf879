package httpclient

import (
	"bytes"
	"encoding/json"
)

// defaultPageSize is used when a Query does not specify one.
const defaultPageSize = 25

// NormalizeEnvelope converts any of the paginated shapes the upstreams are
// known to return into the canonical Envelope:
//
//   - {items, total, page, pageSize}: the canonical shape
//   - {items, total_count}: commerce search results
//   - {data: {items, total}}: wrapped results
//   - [ ... ]: a raw array
//
// Anything else is wrapped as a single-item envelope.
func NormalizeEnvelope(raw []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)

	// Raw array.
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Record
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return &Envelope{
			Items:    items,
			Total:    len(items),
			Page:     1,
			PageSize: max(len(items), 1),
		}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["items"]; ok {
		var env struct {
			Items      []Record `json:"items"`
			Total      int      `json:"total"`
			TotalCount int      `json:"total_count"`
			Page       int      `json:"page"`
			PageSize   int      `json:"pageSize"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		total := max(env.Total, env.TotalCount, len(env.Items))
		return &Envelope{
			Items:    env.Items,
			Total:    total,
			Page:     max(env.Page, 1),
			PageSize: max(env.PageSize, len(env.Items), 1),
		}, nil
	}

	if data, ok := probe["data"]; ok {
		var inner struct {
			Items []Record `json:"items"`
			Total int      `json:"total"`
		}
		if err := json.Unmarshal(data, &inner); err == nil && inner.Items != nil {
			return &Envelope{
				Items:    inner.Items,
				Total:    max(inner.Total, len(inner.Items)),
				Page:     1,
				PageSize: max(len(inner.Items), 1),
			}, nil
		}
	}

	// Unknown shape: wrap the record as a single-item envelope.
	var single Record
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return &Envelope{Items: []Record{single}, Total: 1, Page: 1, PageSize: 1}, nil
}
