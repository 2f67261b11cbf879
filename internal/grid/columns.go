// Package grid provides the reactive controller behind the console's data
// grids: server-driven pagination, sorting and filtering, column inference
// from sample records, and persisted per-grid view settings. It owns no
// rendering.
package grid

import (
	"regexp"
	"sort"
	"strings"

	"github.com/storelink/catalog-console/internal/httpclient"
)

// ColumnType classifies what a column holds, driving formatting downstream.
type ColumnType string

const (
	// ColumnString holds free text.
	ColumnString ColumnType = "string"

	// ColumnNumber holds a plain numeric value.
	ColumnNumber ColumnType = "number"

	// ColumnDate holds a timestamp.
	ColumnDate ColumnType = "date"

	// ColumnBoolean holds a boolean.
	ColumnBoolean ColumnType = "boolean"

	// ColumnCurrency holds a monetary amount.
	ColumnCurrency ColumnType = "currency"

	// ColumnStatus holds a status or state label.
	ColumnStatus ColumnType = "status"

	// ColumnObject holds a nested object or array, rendered as a placeholder.
	ColumnObject ColumnType = "object"

	// ColumnUnknown marks a column whose field disappeared from the schema.
	// It keeps its slot until the next inference pass.
	ColumnUnknown ColumnType = "unknown"
)

// Column describes one grid column. Inferred columns are derived
// deterministically from a sample record; caller-supplied base columns are
// merged on top.
type Column struct {
	Field      string     `json:"field"`
	Header     string     `json:"header"`
	Width      int        `json:"width,omitempty"`
	Type       ColumnType `json:"type"`
	Visible    bool       `json:"visible"`
	Order      int        `json:"order"`
	Sortable   bool       `json:"sortable"`
	Filterable bool       `json:"filterable"`
}

var (
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	currencyPattern = regexp.MustCompile(`price|total|amount|cost`)
	statusPattern   = regexp.MustCompile(`status|state`)
)

// classifyValue maps one attribute of a sample record to a column type.
func classifyValue(field string, value any) ColumnType {
	lower := strings.ToLower(field)

	switch v := value.(type) {
	case bool:
		return ColumnBoolean
	case string:
		if datePattern.MatchString(v) {
			return ColumnDate
		}
		if statusPattern.MatchString(lower) {
			return ColumnStatus
		}
		return ColumnString
	case float64, float32, int, int32, int64:
		if currencyPattern.MatchString(lower) {
			return ColumnCurrency
		}
		return ColumnNumber
	case map[string]any, []any:
		return ColumnObject
	default:
		return ColumnString
	}
}

// InferColumns derives the column set for a sample record and merges the
// caller's base columns over it. Base columns keep their declared order and
// visibility; inferred-only columns are appended hidden. The derivation is
// deterministic: record keys are walked in sorted order, so inferring twice
// from the same sample yields the same column set.
func InferColumns(sample httpclient.Record, base []Column) []Column {
	fields := make([]string, 0, len(sample))
	for field := range sample {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	inferred := make(map[string]Column, len(fields))
	for _, field := range fields {
		inferred[field] = Column{
			Field:      field,
			Header:     humanize(field),
			Type:       classifyValue(field, sample[field]),
			Visible:    false,
			Sortable:   true,
			Filterable: true,
		}
	}

	out := make([]Column, 0, len(fields)+len(base))
	seen := make(map[string]struct{}, len(base))

	for i, b := range base {
		col := b
		if existing, ok := inferred[b.Field]; ok && col.Type == "" {
			col.Type = existing.Type
		}
		if col.Type == "" {
			col.Type = ColumnString
		}
		if col.Header == "" {
			col.Header = humanize(col.Field)
		}
		col.Order = i
		out = append(out, col)
		seen[b.Field] = struct{}{}
	}

	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		col := inferred[field]
		col.Order = len(out)
		out = append(out, col)
	}

	return out
}

// humanize turns a snake_case field name into a display header.
func humanize(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// markMissing flags columns whose field no longer appears in the latest
// sample as unknown, preserving their position until the next inference.
func markMissing(columns []Column, sample httpclient.Record) []Column {
	out := make([]Column, len(columns))
	for i, col := range columns {
		if _, ok := sample[col.Field]; !ok {
			col.Type = ColumnUnknown
		}
		out[i] = col
	}
	return out
}
