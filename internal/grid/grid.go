package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/settings"
)

// ErrorKind classifies grid errors. Only fetch_failed is user-facing.
type ErrorKind string

const (
	// ErrFetchFailed wraps a resource client error for the current query.
	ErrFetchFailed ErrorKind = "fetch_failed"

	// ErrBadQuery means a filter or sort referenced a field outside the
	// inferred schema. Nothing is fetched.
	ErrBadQuery ErrorKind = "bad_query"

	// ErrSchemaDrift means an inferred column disappeared from the latest
	// page. The column is kept with an unknown type until the next
	// inference.
	ErrSchemaDrift ErrorKind = "schema_drift"
)

// Error is the typed error surfaced through the grid snapshot.
type Error struct {
	Kind   ErrorKind
	GridID string
	Err    error
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("grid %s: %s: %v", e.GridID, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// debounceInterval delays fetches for rapidly-changing inputs (search text,
// filter edits). Page and sort changes fetch immediately.
const debounceInterval = 300 * time.Millisecond

// Snapshot is the observable grid state. Rows and columns are shared
// read-only; subscribers must not mutate them.
type Snapshot struct {
	Rows    []httpclient.Record
	Total   int
	Loading bool
	Err     error
	Query   httpclient.Query
	View    *settings.ViewSettings
	Columns []Column
}

// Config describes the resource a Grid controls.
type Config struct {
	// GridID identifies the grid for view-settings persistence.
	GridID string

	// Path is the upstream resource path passed to the client.
	Path string

	// BaseColumns are the caller-declared columns merged over the inferred
	// set.
	BaseColumns []Column

	// GetRowID extracts the row identity. When nil, PrimaryKey is used.
	GetRowID func(httpclient.Record) string

	// PrimaryKey is the identifying field. Required when GetRowID is nil.
	PrimaryKey string

	// CreatedField, when set, provides the default descending sort.
	CreatedField string
}

// Grid is the controller behind one tabular surface. All operations are safe
// for concurrent use; subscribers receive snapshots in emission order.
type Grid struct {
	client httpclient.Client
	store  settings.Store
	cfg    Config

	mu         sync.Mutex
	rows       []httpclient.Record
	total      int
	loading    bool
	err        error
	query      httpclient.Query
	view       *settings.ViewSettings
	columns    []Column
	inferred   bool
	generation uint64

	debounce    *time.Timer
	cancelFetch context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
	pending []Snapshot
	notify  chan struct{}

	rootCtx context.Context
	close   context.CancelFunc
	closed  sync.Once
}

// New creates a grid controller. The view settings are loaded from the store
// (or defaulted) and the first page is not fetched until Refresh or a query
// mutation.
func New(client httpclient.Client, store settings.Store, cfg Config) (*Grid, error) {
	if cfg.GridID == "" {
		return nil, fmt.Errorf("grid id is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("resource path is required")
	}
	if cfg.GetRowID == nil && cfg.PrimaryKey == "" {
		return nil, fmt.Errorf("either GetRowID or PrimaryKey is required for grid %s", cfg.GridID)
	}

	view, err := store.Get(context.Background(), cfg.GridID)
	if err != nil {
		var notFound *settings.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load view settings for grid %s: %w", cfg.GridID, err)
		}
		view = settings.Default(cfg.GridID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Grid{
		client:  client,
		store:   store,
		cfg:     cfg,
		view:    view,
		columns: append([]Column(nil), cfg.BaseColumns...),
		query: httpclient.Query{
			Page:     1,
			PageSize: view.PageSize,
		},
		subs:    make(map[int]func(Snapshot)),
		notify:  make(chan struct{}, 1),
		rootCtx: ctx,
		close:   cancel,
	}
	go g.dispatch()
	return g, nil
}

// Close stops the controller and cancels any in-flight fetch.
func (g *Grid) Close() {
	g.closed.Do(func() {
		g.mu.Lock()
		if g.cancelFetch != nil {
			g.cancelFetch()
		}
		if g.debounce != nil {
			g.debounce.Stop()
		}
		g.mu.Unlock()
		g.close()
	})
}

// Snapshot returns the current observable state.
func (g *Grid) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Grid) snapshotLocked() Snapshot {
	return Snapshot{
		Rows:    g.rows,
		Total:   g.total,
		Loading: g.loading,
		Err:     g.err,
		Query:   g.query,
		View:    g.view.Clone(),
		Columns: append([]Column(nil), g.columns...),
	}
}

// Subscribe registers a snapshot observer and returns its unsubscribe
// function. Observers receive snapshots in emission order.
func (g *Grid) Subscribe(fn func(Snapshot)) func() {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

// emitLocked queues the current snapshot for ordered dispatch. Callers hold
// g.mu.
func (g *Grid) emitLocked() {
	snap := g.snapshotLocked()
	g.subMu.Lock()
	g.pending = append(g.pending, snap)
	g.subMu.Unlock()

	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// dispatch delivers queued snapshots to subscribers in order.
func (g *Grid) dispatch() {
	for {
		select {
		case <-g.rootCtx.Done():
			return
		case <-g.notify:
		}

		for {
			g.subMu.Lock()
			if len(g.pending) == 0 {
				g.subMu.Unlock()
				break
			}
			snap := g.pending[0]
			g.pending = g.pending[1:]
			fns := make([]func(Snapshot), 0, len(g.subs))
			for _, fn := range g.subs {
				fns = append(fns, fn)
			}
			g.subMu.Unlock()

			for _, fn := range fns {
				fn(snap)
			}
		}
	}
}

// SetPage moves to page n and fetches immediately.
func (g *Grid) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	g.mu.Lock()
	g.query.Page = n
	g.mu.Unlock()
	g.fetch(false)
}

// SetPageSize changes the page size, persists it in the view settings and
// fetches immediately.
func (g *Grid) SetPageSize(n int) {
	if n < 1 {
		return
	}
	g.mu.Lock()
	g.query.PageSize = n
	g.query.Page = 1
	g.view.PageSize = n
	g.mu.Unlock()
	g.persistView()
	g.fetch(false)
}

// SetSort replaces the sort orders and fetches immediately.
func (g *Grid) SetSort(sorts []httpclient.Sort) error {
	if err := g.checkFields(sortFields(sorts)); err != nil {
		return err
	}
	g.mu.Lock()
	g.query.Sort = sorts
	g.query.Page = 1
	g.mu.Unlock()
	g.fetch(false)
	return nil
}

// SetFilters replaces the server-side filters; the fetch is debounced.
func (g *Grid) SetFilters(filters []httpclient.Filter) error {
	if err := g.checkFields(filterFields(filters)); err != nil {
		return err
	}
	g.mu.Lock()
	g.query.Filters = filters
	g.query.Page = 1
	g.mu.Unlock()
	g.fetchDebounced()
	return nil
}

// SetSearch replaces the free-text search; the fetch is debounced.
func (g *Grid) SetSearch(s string) {
	g.mu.Lock()
	g.query.Search = s
	g.query.Page = 1
	g.mu.Unlock()
	g.fetchDebounced()
}

// Refresh re-issues the current query, bypassing the response cache.
func (g *Grid) Refresh() {
	g.fetch(true)
}

// SetQuery validates and replaces the whole query without scheduling a
// fetch. Callers pair it with Load for synchronous request/response use.
func (g *Grid) SetQuery(q httpclient.Query) error {
	if err := g.checkFields(sortFields(q.Sort)); err != nil {
		return err
	}
	if err := g.checkFields(filterFields(q.Filters)); err != nil {
		return err
	}
	if q.Page < 1 {
		q.Page = 1
	}

	g.mu.Lock()
	if q.PageSize < 1 {
		q.PageSize = g.view.PageSize
	}
	g.query = q
	g.mu.Unlock()
	return nil
}

// Load issues the current query and blocks until the page is applied. It
// participates in the same generation discipline as the reactive mutators:
// a fetch started after this one wins, and this call then returns whatever
// state the winner left behind.
func (g *Grid) Load(ctx context.Context, fresh bool) (Snapshot, error) {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	if g.cancelFetch != nil {
		g.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	g.cancelFetch = cancel
	g.loading = true
	g.err = nil
	query := g.applyDefaultSortLocked(g.query)
	g.emitLocked()
	g.mu.Unlock()
	defer cancel()

	var opts []httpclient.RequestOption
	if fresh {
		opts = append(opts, httpclient.WithoutCache())
	}
	env, err := g.client.Paginate(fetchCtx, g.cfg.Path, query, opts...)

	g.mu.Lock()
	defer g.mu.Unlock()

	if gen != g.generation {
		return g.snapshotLocked(), nil
	}
	g.loading = false

	if err != nil {
		if httpclient.KindOf(err) == httpclient.ErrorKindCanceled {
			return g.snapshotLocked(), err
		}
		gerr := &Error{Kind: ErrFetchFailed, GridID: g.cfg.GridID, Err: err}
		g.err = gerr
		g.emitLocked()
		return g.snapshotLocked(), gerr
	}

	if aerr := g.applyPageLocked(env); aerr != nil {
		g.err = aerr
		g.emitLocked()
		return g.snapshotLocked(), aerr
	}
	g.emitLocked()
	return g.snapshotLocked(), nil
}

// QuickFilter applies a pure predicate over the currently loaded rows. It is
// additive to the server-side filters and never refetches.
func (g *Grid) QuickFilter(pred func(httpclient.Record) bool) []httpclient.Record {
	g.mu.Lock()
	rows := g.rows
	g.mu.Unlock()

	if pred == nil {
		return rows
	}
	out := make([]httpclient.Record, 0, len(rows))
	for _, row := range rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// ToggleColumn flips a column's visibility and persists the view.
func (g *Grid) ToggleColumn(field string) {
	g.mu.Lock()
	visible, ok := g.view.ColumnVisibility[field]
	if !ok {
		// Unlisted columns follow the column descriptor's default.
		for _, col := range g.columns {
			if col.Field == field {
				visible = col.Visible
				break
			}
		}
	}
	g.view.ColumnVisibility[field] = !visible
	g.mu.Unlock()
	g.persistView()
	g.mu.Lock()
	g.emitLocked()
	g.mu.Unlock()
}

// ReorderColumns moves the column at fromIdx to toIdx in the view order and
// persists the view.
func (g *Grid) ReorderColumns(fromIdx, toIdx int) error {
	g.mu.Lock()
	order := g.view.ColumnOrder
	if len(order) == 0 {
		order = make([]string, len(g.columns))
		for i, col := range g.columns {
			order[i] = col.Field
		}
	}
	if fromIdx < 0 || fromIdx >= len(order) || toIdx < 0 || toIdx >= len(order) {
		g.mu.Unlock()
		return fmt.Errorf("reorder out of range: %d -> %d with %d columns", fromIdx, toIdx, len(order))
	}
	field := order[fromIdx]
	order = append(order[:fromIdx], order[fromIdx+1:]...)
	order = append(order[:toIdx], append([]string{field}, order[toIdx:]...)...)
	g.view.ColumnOrder = order
	g.mu.Unlock()
	g.persistView()
	g.mu.Lock()
	g.emitLocked()
	g.mu.Unlock()
	return nil
}

// ResizeColumn records a column width and persists the view.
func (g *Grid) ResizeColumn(field string, width int) {
	if width < 1 {
		return
	}
	g.mu.Lock()
	g.view.ColumnWidths[field] = width
	g.mu.Unlock()
	g.persistView()
}

// SetDensity changes the row density and persists the view.
func (g *Grid) SetDensity(density string) error {
	switch density {
	case settings.DensityCompact, settings.DensityStandard, settings.DensityComfortable:
	default:
		return fmt.Errorf("invalid density %q", density)
	}
	g.mu.Lock()
	g.view.Density = density
	g.mu.Unlock()
	g.persistView()
	g.mu.Lock()
	g.emitLocked()
	g.mu.Unlock()
	return nil
}

// ResetView drops the persisted view settings and restores defaults.
func (g *Grid) ResetView(ctx context.Context) error {
	if err := g.store.Remove(ctx, g.cfg.GridID); err != nil {
		return err
	}
	g.mu.Lock()
	g.view = settings.Default(g.cfg.GridID)
	g.query.PageSize = g.view.PageSize
	g.emitLocked()
	g.mu.Unlock()
	return nil
}

// checkFields rejects references to fields outside the known schema. Before
// the first inference the schema is open and anything passes.
func (g *Grid) checkFields(fields []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.inferred {
		return nil
	}
	known := make(map[string]struct{}, len(g.columns))
	for _, col := range g.columns {
		known[col.Field] = struct{}{}
	}
	for _, f := range fields {
		if _, ok := known[f]; !ok {
			err := &Error{Kind: ErrBadQuery, GridID: g.cfg.GridID, Err: fmt.Errorf("unknown field %q", f)}
			g.err = err
			g.emitLocked()
			return err
		}
	}
	return nil
}

// fetchDebounced schedules a fetch after the debounce interval, replacing
// any fetch already scheduled.
func (g *Grid) fetchDebounced() {
	g.mu.Lock()
	if g.debounce != nil {
		g.debounce.Stop()
	}
	g.debounce = time.AfterFunc(debounceInterval, func() { g.fetch(false) })
	g.mu.Unlock()
}

// fetch issues the current query. A newer fetch supersedes an outstanding
// one: the older response is dropped by generation counter and its context
// is canceled so it resolves without side effects.
func (g *Grid) fetch(fresh bool) {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	if g.cancelFetch != nil {
		g.cancelFetch()
	}
	ctx, cancel := context.WithCancel(g.rootCtx)
	g.cancelFetch = cancel
	g.loading = true
	g.err = nil
	query := g.applyDefaultSortLocked(g.query)
	g.emitLocked()
	g.mu.Unlock()

	go func() {
		defer cancel()

		var opts []httpclient.RequestOption
		if fresh {
			opts = append(opts, httpclient.WithoutCache())
		}
		env, err := g.client.Paginate(ctx, g.cfg.Path, query, opts...)

		g.mu.Lock()
		defer g.mu.Unlock()

		if gen != g.generation {
			// Superseded; a newer fetch owns the state now.
			return
		}
		g.loading = false

		if err != nil {
			if httpclient.KindOf(err) == httpclient.ErrorKindCanceled {
				return
			}
			g.err = &Error{Kind: ErrFetchFailed, GridID: g.cfg.GridID, Err: err}
			g.emitLocked()
			return
		}

		if err := g.applyPageLocked(env); err != nil {
			g.err = err
			g.emitLocked()
			return
		}
		g.emitLocked()
	}()
}

// applyDefaultSortLocked fills in the default sort when the caller set none:
// creation timestamp descending when configured, else primary key ascending.
func (g *Grid) applyDefaultSortLocked(q httpclient.Query) httpclient.Query {
	if len(q.Sort) > 0 {
		return q
	}
	if g.cfg.CreatedField != "" {
		q.Sort = []httpclient.Sort{{Field: g.cfg.CreatedField, Direction: httpclient.SortDesc}}
	} else if g.cfg.PrimaryKey != "" {
		q.Sort = []httpclient.Sort{{Field: g.cfg.PrimaryKey, Direction: httpclient.SortAsc}}
	}
	return q
}

// applyPageLocked installs a fetched page, inferring columns on the first
// non-empty page and detecting schema drift afterwards.
func (g *Grid) applyPageLocked(env *httpclient.Envelope) error {
	if err := g.checkRowIdentity(env.Items); err != nil {
		return err
	}

	g.rows = env.Items
	g.total = env.Total

	if len(env.Items) == 0 {
		return nil
	}
	sample := env.Items[0]

	if !g.inferred {
		g.columns = InferColumns(sample, g.cfg.BaseColumns)
		g.inferred = true
		return nil
	}

	// Drift check: a previously inferred column that vanished keeps its
	// slot with an unknown type until the next inference.
	for _, col := range g.columns {
		if col.Type == ColumnUnknown {
			continue
		}
		if _, ok := sample[col.Field]; !ok {
			g.columns = markMissing(g.columns, sample)
			return &Error{
				Kind:   ErrSchemaDrift,
				GridID: g.cfg.GridID,
				Err:    fmt.Errorf("field %q disappeared from the schema", col.Field),
			}
		}
	}
	return nil
}

// checkRowIdentity verifies that every row has a distinct id within the page.
func (g *Grid) checkRowIdentity(rows []httpclient.Record) error {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		id := g.rowID(row)
		if id == "" {
			return &Error{
				Kind:   ErrFetchFailed,
				GridID: g.cfg.GridID,
				Err:    fmt.Errorf("row without an id (field %q)", g.cfg.PrimaryKey),
			}
		}
		if _, dup := seen[id]; dup {
			return &Error{
				Kind:   ErrFetchFailed,
				GridID: g.cfg.GridID,
				Err:    fmt.Errorf("duplicate row id %q within page", id),
			}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (g *Grid) rowID(row httpclient.Record) string {
	if g.cfg.GetRowID != nil {
		return g.cfg.GetRowID(row)
	}
	if v, ok := row[g.cfg.PrimaryKey]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// persistView writes the current view settings through the store. Failures
// are logged and the in-memory view stays authoritative.
func (g *Grid) persistView() {
	g.mu.Lock()
	view := g.view.Clone()
	known := make(map[string]struct{}, len(g.columns))
	for _, col := range g.columns {
		known[col.Field] = struct{}{}
	}
	g.mu.Unlock()

	view.UpdatedAt = time.Now()
	if err := g.store.Put(context.Background(), g.cfg.GridID, view, known); err != nil {
		slog.Warn("Failed to persist view settings", "gridId", g.cfg.GridID, "error", err)
	}
}

func sortFields(sorts []httpclient.Sort) []string {
	out := make([]string, len(sorts))
	for i, s := range sorts {
		out[i] = s.Field
	}
	return out
}

func filterFields(filters []httpclient.Filter) []string {
	out := make([]string, len(filters))
	for i, f := range filters {
		out[i] = f.Field
	}
	return out
}
