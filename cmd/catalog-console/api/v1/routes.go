// Package v1 provides the REST API handlers for the catalog console.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"

	"github.com/go-chi/chi/v5"

	"github.com/storelink/catalog-console/internal/commerce"
	"github.com/storelink/catalog-console/internal/grid"
	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/settings"
	pkgsync "github.com/storelink/catalog-console/internal/sync"
	"github.com/storelink/catalog-console/internal/versions"
)

// Deps are the dependencies the API handlers operate on.
type Deps struct {
	// Commerce is the resource client pointed at the commerce API.
	Commerce httpclient.Client

	// Store holds per-grid view settings.
	Store settings.Store

	// Sync drives the price and stock pipelines.
	Sync *pkgsync.Manager

	// Metrics is the Prometheus scrape handler; nil disables /metrics.
	Metrics http.Handler
}

// GridPageResponse is one page of grid rows plus the column schema.
type GridPageResponse struct {
	Items    []httpclient.Record `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	Columns  []grid.Column       `json:"columns"`
	Warning  string              `json:"warning,omitempty"`
}

// StartSyncResponse reports the job a start request resolved to.
type StartSyncResponse struct {
	Job     *pkgsync.Status `json:"job"`
	Started bool            `json:"started"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the console API with dependency injection
type Routes struct {
	deps Deps

	gridMu gosync.Mutex
	grids  map[string]*grid.Grid
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(deps Deps) *Routes {
	return &Routes{
		deps:  deps,
		grids: make(map[string]*grid.Grid),
	}
}

// Router creates the /api/v1 router
func (rr *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/grids/{kind}", func(r chi.Router) {
		r.Get("/", rr.getGridPage)
		r.Get("/export", rr.exportGrid)
	})

	r.Route("/settings", func(r chi.Router) {
		// Export/import before {gridId} to avoid route conflicts
		r.Get("/export", rr.exportSettings)
		r.Post("/import", rr.importSettings)

		r.Get("/{gridId}", rr.getSettings)
		r.Put("/{gridId}", rr.putSettings)
		r.Delete("/{gridId}", rr.deleteSettings)
	})

	r.Route("/sync/{kind}", func(r chi.Router) {
		r.Post("/", rr.startSync)
		r.Get("/", rr.getSyncStatus)
		r.Delete("/", rr.cancelSync)
		r.Get("/events", rr.streamSyncEvents)
	})

	return r
}

// gridFor returns the long-lived controller for a resource kind, creating
// it on first use.
func (rr *Routes) gridFor(kind string) (*grid.Grid, error) {
	rr.gridMu.Lock()
	defer rr.gridMu.Unlock()

	if g, ok := rr.grids[kind]; ok {
		return g, nil
	}
	g, err := commerce.NewGrid(kind, rr.deps.Commerce, rr.deps.Store)
	if err != nil {
		return nil, err
	}
	rr.grids[kind] = g
	return g, nil
}

// getGridPage handles GET /api/v1/grids/{kind}
func (rr *Routes) getGridPage(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	g, err := rr.gridFor(kind)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	q, err := parseGridQuery(r)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.SetQuery(q); err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	fresh := r.URL.Query().Get("fresh") == "true"
	snap, err := g.Load(r.Context(), fresh)
	if err != nil {
		var gerr *grid.Error
		if errors.As(err, &gerr) && gerr.Kind == grid.ErrSchemaDrift {
			// Rows are still usable; the vanished columns are flagged
			rr.writeJSONResponse(w, pageResponse(snap, gerr.Error()))
			return
		}
		slog.Error("grid fetch failed", "kind", kind, "error", err)
		rr.writeErrorResponse(w, "Failed to fetch rows", http.StatusBadGateway)
		return
	}

	rr.writeJSONResponse(w, pageResponse(snap, ""))
}

// exportGrid handles GET /api/v1/grids/{kind}/export
func (rr *Routes) exportGrid(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	g, err := rr.gridFor(kind)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	q, err := parseGridQuery(r)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.SetQuery(q); err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := g.Load(r.Context(), false); err != nil {
		var gerr *grid.Error
		if !errors.As(err, &gerr) || gerr.Kind != grid.ErrSchemaDrift {
			slog.Error("grid fetch failed", "kind", kind, "error", err)
			rr.writeErrorResponse(w, "Failed to fetch rows", http.StatusBadGateway)
			return
		}
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = grid.FormatCSV
	}
	data, err := g.Export(format)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch format {
	case grid.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.%s", kind, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseGridQuery maps query params onto a resource query:
// page, pageSize, sort=field:dir[,field:dir], filter=field:op:value
// (repeatable), search.
func parseGridQuery(r *http.Request) (httpclient.Query, error) {
	params := r.URL.Query()
	var q httpclient.Query

	if s := params.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, fmt.Errorf("invalid page %q", s)
		}
		q.Page = n
	}
	if s := params.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, fmt.Errorf("invalid pageSize %q", s)
		}
		q.PageSize = n
	}

	if s := params.Get("sort"); s != "" {
		for _, part := range strings.Split(s, ",") {
			field, dir, _ := strings.Cut(part, ":")
			if field == "" {
				return q, fmt.Errorf("invalid sort %q", part)
			}
			if dir == "" {
				dir = httpclient.SortAsc
			}
			if dir != httpclient.SortAsc && dir != httpclient.SortDesc {
				return q, fmt.Errorf("invalid sort direction %q", dir)
			}
			q.Sort = append(q.Sort, httpclient.Sort{Field: field, Direction: dir})
		}
	}

	for _, part := range params["filter"] {
		pieces := strings.SplitN(part, ":", 3)
		if len(pieces) != 3 || pieces[0] == "" {
			return q, fmt.Errorf("invalid filter %q, want field:op:value", part)
		}
		q.Filters = append(q.Filters, httpclient.Filter{
			Field: pieces[0],
			Op:    pieces[1],
			Value: pieces[2],
		})
	}

	q.Search = params.Get("search")
	return q, nil
}

func pageResponse(snap grid.Snapshot, warning string) GridPageResponse {
	items := snap.Rows
	if items == nil {
		items = []httpclient.Record{}
	}
	return GridPageResponse{
		Items:    items,
		Total:    snap.Total,
		Page:     snap.Query.Page,
		PageSize: snap.Query.PageSize,
		Columns:  snap.Columns,
		Warning:  warning,
	}
}

// getSettings handles GET /api/v1/settings/{gridId}. A grid with no stored
// settings resolves to its defaults.
func (rr *Routes) getSettings(w http.ResponseWriter, r *http.Request) {
	gridID := chi.URLParam(r, "gridId")

	vs, err := rr.deps.Store.Get(r.Context(), gridID)
	if err != nil {
		var notFound *settings.ErrNotFound
		if errors.As(err, &notFound) {
			rr.writeJSONResponse(w, settings.Default(gridID))
			return
		}
		slog.Error("failed to load settings", "grid_id", gridID, "error", err)
		rr.writeErrorResponse(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, vs)
}

// putSettings handles PUT /api/v1/settings/{gridId}
func (rr *Routes) putSettings(w http.ResponseWriter, r *http.Request) {
	gridID := chi.URLParam(r, "gridId")

	var vs settings.ViewSettings
	if err := json.NewDecoder(r.Body).Decode(&vs); err != nil {
		rr.writeErrorResponse(w, "Invalid settings document: "+err.Error(), http.StatusBadRequest)
		return
	}
	vs.GridID = gridID

	if err := rr.deps.Store.Put(r.Context(), gridID, &vs, nil); err != nil {
		slog.Error("failed to store settings", "grid_id", gridID, "error", err)
		rr.writeErrorResponse(w, "Failed to store settings: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteSettings handles DELETE /api/v1/settings/{gridId}
func (rr *Routes) deleteSettings(w http.ResponseWriter, r *http.Request) {
	gridID := chi.URLParam(r, "gridId")

	if err := rr.deps.Store.Remove(r.Context(), gridID); err != nil {
		var notFound *settings.ErrNotFound
		if errors.As(err, &notFound) {
			rr.writeErrorResponse(w, "No settings for grid", http.StatusNotFound)
			return
		}
		slog.Error("failed to remove settings", "grid_id", gridID, "error", err)
		rr.writeErrorResponse(w, "Failed to remove settings", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// exportSettings handles GET /api/v1/settings/export
func (rr *Routes) exportSettings(w http.ResponseWriter, r *http.Request) {
	data, err := rr.deps.Store.Export(r.Context())
	if err != nil {
		slog.Error("failed to export settings", "error", err)
		rr.writeErrorResponse(w, "Failed to export settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=view-settings.json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// importSettings handles POST /api/v1/settings/import
func (rr *Routes) importSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		rr.writeErrorResponse(w, "Failed to read import body", http.StatusBadRequest)
		return
	}

	if err := rr.deps.Store.Import(r.Context(), data); err != nil {
		rr.writeErrorResponse(w, "Invalid import document: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// startSync handles POST /api/v1/sync/{kind}. Starting an already running
// kind resolves to the running job.
func (rr *Routes) startSync(w http.ResponseWriter, r *http.Request) {
	kind := pkgsync.Kind(chi.URLParam(r, "kind"))

	var (
		st  *pkgsync.Status
		err error
	)
	switch kind {
	case pkgsync.KindPrice:
		var body struct {
			Items []pkgsync.PriceItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			rr.writeErrorResponse(w, "Invalid price sync request: "+err.Error(), http.StatusBadRequest)
			return
		}
		st, err = rr.deps.Sync.StartPriceSync(body.Items)
	case pkgsync.KindStock:
		st, err = rr.deps.Sync.StartStockSync()
	default:
		rr.writeErrorResponse(w, "Unknown sync kind", http.StatusNotFound)
		return
	}

	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if encErr := json.NewEncoder(w).Encode(StartSyncResponse{Job: st, Started: true}); encErr != nil {
		slog.Error("failed to encode sync response", "error", encErr)
	}
}

// getSyncStatus handles GET /api/v1/sync/{kind}
func (rr *Routes) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	kind := pkgsync.Kind(chi.URLParam(r, "kind"))

	st, ok := rr.deps.Sync.Status(kind)
	if !ok {
		rr.writeErrorResponse(w, "No sync job for kind", http.StatusNotFound)
		return
	}

	rr.writeJSONResponse(w, st)
}

// cancelSync handles DELETE /api/v1/sync/{kind}
func (rr *Routes) cancelSync(w http.ResponseWriter, r *http.Request) {
	kind := pkgsync.Kind(chi.URLParam(r, "kind"))

	if !rr.deps.Sync.Cancel(kind) {
		rr.writeErrorResponse(w, "No running sync job for kind", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// streamSyncEvents handles GET /api/v1/sync/{kind}/events as a server-sent
// event stream. The stream replays the current status, then forwards
// progress events until the job reaches a terminal state or the client
// disconnects.
func (rr *Routes) streamSyncEvents(w http.ResponseWriter, r *http.Request) {
	kind := pkgsync.Kind(chi.URLParam(r, "kind"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		rr.writeErrorResponse(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events := make(chan pkgsync.Event, 64)
	unsubscribe := rr.deps.Sync.Subscribe(func(ev pkgsync.Event) {
		if ev.Kind != kind {
			return
		}
		select {
		case events <- ev:
		default:
			// Slow consumer; the next event carries the fresher state
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if st, ok := rr.deps.Sync.Status(kind); ok {
		writeSSE(w, "status", st)
		flusher.Flush()
		if st.State.Terminal() {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeSSE(w, "progress", ev)
			flusher.Flush()
			if ev.State.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode sse payload", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		slog.Error("failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
