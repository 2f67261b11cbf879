package v1_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/storelink/catalog-console/cmd/catalog-console/api/v1"
	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/settings"
	pkgsync "github.com/storelink/catalog-console/internal/sync"
)

// stubMDM answers every sync operation successfully unless a hook overrides
// it.
type stubMDM struct {
	syncPrices func(ctx context.Context, items []pkgsync.PriceItem, operationID string) (*pkgsync.PriceSyncResponse, error)
}

func (s *stubMDM) SyncPrices(ctx context.Context, items []pkgsync.PriceItem, operationID string) (*pkgsync.PriceSyncResponse, error) {
	if s.syncPrices != nil {
		return s.syncPrices(ctx, items, operationID)
	}
	return &pkgsync.PriceSyncResponse{Method: "bulk", Successful: len(items), Message: "ok"}, nil
}

func (*stubMDM) MarkStocksDirty(context.Context) error { return nil }

func (*stubMDM) FetchSources(context.Context) ([]pkgsync.Source, error) {
	return []pkgsync.Source{{Code: "main", Name: "Main"}}, nil
}

func (*stubMDM) PushSourceStock(context.Context, string) error { return nil }

func (*stubMDM) CommitStockSync(context.Context, []string) error { return nil }

type consoleFixture struct {
	server  *httptest.Server
	manager *pkgsync.Manager
	store   settings.Store
}

// newConsole stands up the API over an in-memory store, a stub MDM and a
// commerce backend served by the given handler.
func newConsole(t *testing.T, backend http.HandlerFunc, mdm *stubMDM) *consoleFixture {
	t.Helper()

	upstream := httptest.NewServer(backend)
	upstream.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(upstream.Close)

	client, err := httpclient.New(upstream.URL)
	require.NoError(t, err)

	if mdm == nil {
		mdm = &stubMDM{}
	}
	manager := pkgsync.NewManager(mdm)
	t.Cleanup(manager.Close)

	store := settings.NewMemoryStore()
	handler := v1.NewServer(v1.Deps{
		Commerce: client,
		Store:    store,
		Sync:     manager,
	})

	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	return &consoleFixture{server: server, manager: manager, store: store}
}

func productBackend(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items": []map[string]any{
			{"sku": "A-1", "name": "Widget", "price": 9.99, "status": "enabled"},
			{"sku": "A-2", "name": "Gadget", "price": 19.99, "status": "disabled"},
		},
		"total_count": 2,
	})
}

func (f *consoleFixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.server.Client().Get(f.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func (f *consoleFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/version")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Contains(t, info, "version")
}

func TestMetricsDisabledWithoutHandler(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.get(t, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetGridPage(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/api/v1/grids/products?page=1&pageSize=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page v1.GridPageResponse
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "A-1", page.Items[0]["sku"])
	assert.NotEmpty(t, page.Columns)
	assert.Empty(t, page.Warning)
}

func TestGetGridPageUnknownKind(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.get(t, "/api/v1/grids/widgets")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetGridPageBadParams(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"bad page", "?page=abc"},
		{"zero page", "?page=0"},
		{"bad page size", "?pageSize=-5"},
		{"bad sort direction", "?sort=name:sideways"},
		{"empty sort field", "?sort=:asc"},
		{"malformed filter", "?filter=status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, body := f.get(t, "/api/v1/grids/products"+tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp v1.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestGetGridPageUpstreamFailure(t *testing.T) {
	t.Parallel()
	f := newConsole(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, nil)

	resp, _ := f.get(t, "/api/v1/grids/products")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestExportGridCSV(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/api/v1/grids/products/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=products.csv", resp.Header.Get("Content-Disposition"))
	assert.Contains(t, string(body), "A-1")
}

func TestExportGridJSON(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/api/v1/grids/products/export?format=json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(body, &rows))
	assert.Len(t, rows, 2)
}

func TestExportGridBadFormat(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.get(t, "/api/v1/grids/products/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSettingsDefaults(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.get(t, "/api/v1/settings/products")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vs settings.ViewSettings
	require.NoError(t, json.Unmarshal(body, &vs))
	assert.Equal(t, "products", vs.GridID)
	assert.Equal(t, 25, vs.PageSize)
	assert.Equal(t, settings.DensityStandard, vs.Density)
}

func TestPutAndGetSettings(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	doc := `{"pageSize":50,"density":"compact","columnOrder":["sku","name"]}`
	resp, _ := f.do(t, http.MethodPut, "/api/v1/settings/products", doc)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := f.get(t, "/api/v1/settings/products")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vs settings.ViewSettings
	require.NoError(t, json.Unmarshal(body, &vs))
	assert.Equal(t, 50, vs.PageSize)
	assert.Equal(t, settings.DensityCompact, vs.Density)
	assert.Equal(t, []string{"sku", "name"}, vs.ColumnOrder)
	assert.False(t, vs.UpdatedAt.IsZero())
}

func TestPutSettingsInvalid(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodPut, "/api/v1/settings/products", `{"pageSize":50,"density":"cozy"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/v1/settings/products", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSettings(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	doc := `{"pageSize":50,"density":"compact"}`
	resp, _ := f.do(t, http.MethodPut, "/api/v1/settings/products", doc)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/settings/products", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Back to defaults.
	resp, body := f.get(t, "/api/v1/settings/products")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vs settings.ViewSettings
	require.NoError(t, json.Unmarshal(body, &vs))
	assert.Equal(t, 25, vs.PageSize)
}

func TestSettingsExportImport(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	doc := `{"pageSize":100,"density":"comfortable"}`
	resp, _ := f.do(t, http.MethodPut, "/api/v1/settings/orders", doc)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, exported := f.get(t, "/api/v1/settings/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=view-settings.json", resp.Header.Get("Content-Disposition"))

	other := newConsole(t, productBackend, nil)
	resp, _ = other.do(t, http.MethodPost, "/api/v1/settings/import", string(exported))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := other.get(t, "/api/v1/settings/orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vs settings.ViewSettings
	require.NoError(t, json.Unmarshal(body, &vs))
	assert.Equal(t, 100, vs.PageSize)
}

func TestImportSettingsRejectsGarbage(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/settings/import", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartStockSync(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.do(t, http.MethodPost, "/api/v1/sync/stock", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started v1.StartSyncResponse
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotNil(t, started.Job)
	assert.Equal(t, pkgsync.KindStock, started.Job.Kind)
	assert.NotEmpty(t, started.Job.ID)

	require.Eventually(t, func() bool {
		st, ok := f.manager.Status(pkgsync.KindStock)
		return ok && st.State == pkgsync.StateSuccess
	}, 5*time.Second, 20*time.Millisecond)

	resp, body = f.get(t, "/api/v1/sync/stock")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st pkgsync.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, pkgsync.StateSuccess, st.State)
	assert.Equal(t, 100, st.Percent)
}

func TestStartPriceSync(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, body := f.do(t, http.MethodPost, "/api/v1/sync/price", `{"items":[{"sku":"A-1","price":9.99}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started v1.StartSyncResponse
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotNil(t, started.Job)
	assert.Equal(t, pkgsync.KindPrice, started.Job.Kind)
}

func TestStartPriceSyncBadBody(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sync/price", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a price sync needs a request body")

	resp, _ = f.do(t, http.MethodPost, "/api/v1/sync/price", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty item lists are rejected")
}

func TestStartSyncUnknownKind(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sync/refunds", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncStatusNeverRan(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.get(t, "/api/v1/sync/stock")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelSyncNotRunning(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/sync/stock", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncEventStreamReplaysTerminalStatus(t *testing.T) {
	t.Parallel()
	f := newConsole(t, productBackend, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sync/stock", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		st, ok := f.manager.Status(pkgsync.KindStock)
		return ok && st.State.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	// A stream opened after the job finished replays the status and closes.
	resp, body := f.get(t, "/api/v1/sync/stock/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	text := string(body)
	assert.Contains(t, text, "event: status")
	assert.Contains(t, text, `"state":"success"`)
}
