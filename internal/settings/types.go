// Package settings provides the durable per-grid view settings store used by
// the grid data plane and the sync console to persist user preferences
// across sessions.
package settings

import (
	"fmt"
	"time"
)

// CurrentVersion is the persisted document version.
const CurrentVersion = 1

// Grid densities.
const (
	DensityCompact     = "compact"
	DensityStandard    = "standard"
	DensityComfortable = "comfortable"
)

// Flags toggles optional grid capabilities.
type Flags struct {
	Filtering      bool `json:"filtering"`
	Sorting        bool `json:"sorting"`
	Reorder        bool `json:"reorder"`
	Resize         bool `json:"resize"`
	Export         bool `json:"export"`
	Virtualization bool `json:"virtualization"`
	Selection      bool `json:"selection"`
}

// DefaultFlags returns the capability set new grids start with.
func DefaultFlags() Flags {
	return Flags{
		Filtering: true,
		Sorting:   true,
		Reorder:   true,
		Resize:    true,
		Export:    true,
	}
}

// ViewSettings is the persisted per-grid user preference document.
type ViewSettings struct {
	Version          int             `json:"version"`
	GridID           string          `json:"gridId"`
	PageSize         int             `json:"pageSize"`
	Density          string          `json:"density"`
	ColumnVisibility map[string]bool `json:"columnVisibility"`
	ColumnOrder      []string        `json:"columnOrder"`
	ColumnWidths     map[string]int  `json:"columnWidths"`
	Flags            Flags           `json:"flags"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Default returns the settings a grid starts with before the user changes
// anything.
func Default(gridID string) *ViewSettings {
	return &ViewSettings{
		Version:          CurrentVersion,
		GridID:           gridID,
		PageSize:         25,
		Density:          DensityStandard,
		ColumnVisibility: map[string]bool{},
		ColumnOrder:      nil,
		ColumnWidths:     map[string]int{},
		Flags:            DefaultFlags(),
	}
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (s *ViewSettings) Clone() *ViewSettings {
	if s == nil {
		return nil
	}
	out := *s
	out.ColumnVisibility = make(map[string]bool, len(s.ColumnVisibility))
	for k, v := range s.ColumnVisibility {
		out.ColumnVisibility[k] = v
	}
	out.ColumnOrder = append([]string(nil), s.ColumnOrder...)
	out.ColumnWidths = make(map[string]int, len(s.ColumnWidths))
	for k, v := range s.ColumnWidths {
		out.ColumnWidths[k] = v
	}
	return &out
}

// Validate rejects structurally invalid settings. knownFields, when
// non-empty, is the set of fields the owning grid currently knows about;
// visibility keys outside it are reported as warnings, not errors.
func (s *ViewSettings) Validate(knownFields map[string]struct{}) (warnings []string, err error) {
	if s.GridID == "" {
		return nil, fmt.Errorf("gridId is required")
	}
	if s.PageSize < 1 {
		return nil, fmt.Errorf("pageSize must be at least 1")
	}
	switch s.Density {
	case DensityCompact, DensityStandard, DensityComfortable:
	default:
		return nil, fmt.Errorf("invalid density %q", s.Density)
	}

	seen := make(map[string]struct{}, len(s.ColumnOrder))
	for _, field := range s.ColumnOrder {
		if _, dup := seen[field]; dup {
			return nil, fmt.Errorf("duplicate field %q in columnOrder", field)
		}
		seen[field] = struct{}{}
	}

	if len(knownFields) > 0 {
		for field := range s.ColumnVisibility {
			if _, ok := knownFields[field]; !ok {
				warnings = append(warnings, fmt.Sprintf("columnVisibility references unknown field %q", field))
			}
		}
	}

	return warnings, nil
}
