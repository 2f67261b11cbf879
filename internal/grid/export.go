package grid

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Export serializes the currently loaded rows. It is not a server call:
// only rows already fetched are exported, restricted to visible columns in
// their effective order.
func (g *Grid) Export(format string) ([]byte, error) {
	snap := g.Snapshot()
	columns := effectiveColumns(snap)

	switch format {
	case FormatCSV:
		return exportCSV(snap, columns)
	case FormatJSON:
		return exportJSON(snap, columns)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// effectiveColumns resolves the visible columns in view order: the view's
// explicit order first, then any remaining visible columns in descriptor
// order.
func effectiveColumns(snap Snapshot) []Column {
	byField := make(map[string]Column, len(snap.Columns))
	for _, col := range snap.Columns {
		byField[col.Field] = col
	}

	visible := func(col Column) bool {
		if v, ok := snap.View.ColumnVisibility[col.Field]; ok {
			return v
		}
		return col.Visible
	}

	out := make([]Column, 0, len(snap.Columns))
	taken := make(map[string]struct{}, len(snap.Columns))
	for _, field := range snap.View.ColumnOrder {
		if col, ok := byField[field]; ok && visible(col) {
			out = append(out, col)
			taken[field] = struct{}{}
		}
	}
	for _, col := range snap.Columns {
		if _, ok := taken[col.Field]; ok {
			continue
		}
		if visible(col) {
			out = append(out, col)
		}
	}
	return out
}

func exportCSV(snap Snapshot, columns []Column) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Header
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, len(columns))
	for _, rec := range snap.Rows {
		for i, col := range columns {
			row[i] = formatCell(rec[col.Field], col.Type)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportJSON(snap Snapshot, columns []Column) ([]byte, error) {
	out := make([]map[string]any, 0, len(snap.Rows))
	for _, rec := range snap.Rows {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			if v, ok := rec[col.Field]; ok {
				row[col.Field] = v
			}
		}
		out = append(out, row)
	}
	return json.MarshalIndent(out, "", "  ")
}

func formatCell(v any, colType ColumnType) string {
	if v == nil {
		return ""
	}
	switch colType {
	case ColumnObject:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	case ColumnDate:
		if s, ok := v.(string); ok {
			return s
		}
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return fmt.Sprintf("%v", v)
	case ColumnNumber, ColumnCurrency:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
