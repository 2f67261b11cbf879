package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(gridID string) *ViewSettings {
	s := Default(gridID)
	s.PageSize = 50
	s.ColumnVisibility["sku"] = true
	s.ColumnOrder = []string{"sku", "name"}
	s.ColumnWidths["sku"] = 120
	return s
}

func TestMemoryStorePutAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "products", testSettings("products"), nil))

	got, err := store.Get(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, "products", got.GridID)
	assert.Equal(t, 50, got.PageSize)
	assert.Equal(t, []string{"sku", "name"}, got.ColumnOrder)
	assert.False(t, got.UpdatedAt.IsZero(), "a zero timestamp is stamped on write")
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "absent")
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "absent", notFound.GridID)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "products", testSettings("products"), nil))

	first, err := store.Get(ctx, "products")
	require.NoError(t, err)
	first.ColumnVisibility["mutated"] = true
	first.ColumnOrder[0] = "mutated"

	second, err := store.Get(ctx, "products")
	require.NoError(t, err)
	assert.NotContains(t, second.ColumnVisibility, "mutated")
	assert.Equal(t, "sku", second.ColumnOrder[0])
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	newer := testSettings("orders")
	newer.Density = DensityCompact
	newer.UpdatedAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, "orders", newer, nil))

	stale := testSettings("orders")
	stale.Density = DensityComfortable
	stale.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, "orders", stale, nil))

	got, err := store.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, DensityCompact, got.Density, "the stale write must not clobber the newer document")
	assert.Equal(t, newer.UpdatedAt, got.UpdatedAt)
}

func TestMemoryStorePutForcesGridID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	s := testSettings("whatever")
	require.NoError(t, store.Put(ctx, "products", s, nil))

	got, err := store.Get(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, "products", got.GridID)
}

func TestMemoryStorePutRejectsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	tests := []struct {
		name   string
		mutate func(*ViewSettings)
	}{
		{"zero page size", func(s *ViewSettings) { s.PageSize = 0 }},
		{"unknown density", func(s *ViewSettings) { s.Density = "cozy" }},
		{"duplicate column order", func(s *ViewSettings) { s.ColumnOrder = []string{"sku", "sku"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testSettings("products")
			tt.mutate(s)
			assert.Error(t, store.Put(ctx, "products", s, nil))
		})
	}

	assert.Error(t, store.Put(ctx, "products", nil, nil))
}

func TestValidateUnknownFieldsWarn(t *testing.T) {
	t.Parallel()

	s := testSettings("products")
	s.ColumnVisibility["ghost"] = false

	known := map[string]struct{}{"sku": {}, "name": {}}
	warnings, err := s.Validate(known)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ghost")

	// Without a known schema nothing can be flagged.
	warnings, err = s.Validate(nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestMemoryStoreRemoveAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "orders", testSettings("orders"), nil))
	require.NoError(t, store.Put(ctx, "products", testSettings("products"), nil))
	require.NoError(t, store.Put(ctx, "customers", testSettings("customers"), nil))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders", "products"}, ids)

	require.NoError(t, store.Remove(ctx, "orders"))
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "products"}, ids)
}

func TestMemoryStoreExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := NewMemoryStore()

	require.NoError(t, src.Put(ctx, "products", testSettings("products"), nil))
	require.NoError(t, src.Put(ctx, "orders", testSettings("orders"), nil))

	data, err := src.Export(ctx)
	require.NoError(t, err)

	var docs []ViewSettings
	require.NoError(t, json.Unmarshal(data, &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "orders", docs[0].GridID, "export is ordered by grid identifier")
	assert.Equal(t, "products", docs[1].GridID)

	dst := NewMemoryStore()
	require.NoError(t, dst.Import(ctx, data))
	ids, err := dst.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "products"}, ids)
}

func TestMemoryStoreImportAppliesLastWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	local := testSettings("products")
	local.Density = DensityCompact
	local.UpdatedAt = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, "products", local, nil))

	imported := testSettings("products")
	imported.Density = DensityComfortable
	imported.UpdatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	data, err := json.Marshal([]*ViewSettings{imported})
	require.NoError(t, err)

	require.NoError(t, store.Import(ctx, data))

	got, err := store.Get(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, DensityCompact, got.Density, "an older imported document loses to the stored one")
}

func TestMemoryStoreImportSkipsBadDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	good := testSettings("products")
	good.UpdatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	goodDoc, err := json.Marshal(good)
	require.NoError(t, err)

	payload := []byte(`[{"gridId":"","pageSize":0},` + string(goodDoc) + `,{"pageSize":"oops"}]`)
	require.NoError(t, store.Import(ctx, payload), "bad entries are skipped, not fatal")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, ids)
}

func TestMemoryStoreImportRejectsNonArray(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	assert.Error(t, store.Import(context.Background(), []byte(`{"gridId":"products"}`)))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := testSettings("products")
	clone := orig.Clone()
	clone.ColumnVisibility["sku"] = false
	clone.ColumnWidths["sku"] = 999
	clone.ColumnOrder[0] = "name"

	assert.True(t, orig.ColumnVisibility["sku"])
	assert.Equal(t, 120, orig.ColumnWidths["sku"])
	assert.Equal(t, "sku", orig.ColumnOrder[0])

	var nilSettings *ViewSettings
	assert.Nil(t, nilSettings.Clone())
}

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := Default("invoices")
	assert.Equal(t, CurrentVersion, s.Version)
	assert.Equal(t, "invoices", s.GridID)
	assert.Equal(t, 25, s.PageSize)
	assert.Equal(t, DensityStandard, s.Density)
	assert.True(t, s.Flags.Sorting)
	assert.False(t, s.Flags.Virtualization)

	warnings, err := s.Validate(nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
