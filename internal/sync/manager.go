package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storelink/catalog-console/internal/telemetry"
)

// Step names reported through progress events.
const (
	stepPushPrices   = "push-prices"
	stepMarkDirty    = "mark-stocks-dirty"
	stepFetchSources = "fetch-sources"
	stepPushSources  = "push-source-stock"
	stepCommit       = "commit-stock-sync"
)

// defaultSourceRetries is the number of retries granted to one stock source
// before it is marked failed.
const defaultSourceRetries = 2

// priceProgressCap bounds the time-based progress heuristic while the bulk
// price request is in flight; only the final response reaches 100.
const priceProgressCap = 90

// Option configures a Manager.
type Option func(*Manager)

// WithSourceRetries sets the per-source retry budget for the stock fan-out.
func WithSourceRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.sourceRetries = n
		}
	}
}

// WithMetrics attaches sync metrics. A nil value disables them.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithPriceEstimate sets the duration the price progress heuristic spreads
// its 0→90 climb over.
func WithPriceEstimate(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.priceEstimate = d
		}
	}
}

// Manager owns the sync jobs. At most one job of each kind is active;
// starting a kind that is already running returns the existing job handle.
type Manager struct {
	mdm           MDM
	sourceRetries int
	priceEstimate time.Duration
	metrics       *telemetry.SyncMetrics

	mu     sync.Mutex
	active map[Kind]*job
	last   map[Kind]*job

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	pending []Event
	notify  chan struct{}

	rootCtx context.Context
	close   context.CancelFunc
	closed  sync.Once
}

// job is the orchestrator-owned mutable state of one sync run.
type job struct {
	mu sync.Mutex

	id            string
	kind          Kind
	state         State
	stepsTotal    int
	stepsDone     int
	lastPercent   int
	currentStep   string
	message       string
	sources       []Source
	sourcesDone   []string
	sourcesFailed []string
	results       []ItemResult
	startedAt     time.Time
	endedAt       *time.Time

	cancel context.CancelFunc
}

// NewManager creates a sync manager driving the given MDM operations.
func NewManager(mdm MDM, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		mdm:           mdm,
		sourceRetries: defaultSourceRetries,
		priceEstimate: 5 * time.Second,
		active:        make(map[Kind]*job),
		last:          make(map[Kind]*job),
		subs:          make(map[int]func(Event)),
		notify:        make(chan struct{}, 1),
		rootCtx:       ctx,
		close:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatch()
	return m
}

// Close stops the manager, canceling any active jobs.
func (m *Manager) Close() {
	m.closed.Do(func() {
		m.mu.Lock()
		for _, j := range m.active {
			j.mu.Lock()
			if j.cancel != nil {
				j.cancel()
			}
			j.mu.Unlock()
		}
		m.mu.Unlock()
		m.close()
	})
}

// Subscribe registers a progress observer and returns its unsubscribe
// function. Events arrive in emission order.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-m.notify:
		}

		for {
			m.subMu.Lock()
			if len(m.pending) == 0 {
				m.subMu.Unlock()
				break
			}
			ev := m.pending[0]
			m.pending = m.pending[1:]
			fns := make([]func(Event), 0, len(m.subs))
			for _, fn := range m.subs {
				fns = append(fns, fn)
			}
			m.subMu.Unlock()

			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

// Status returns the snapshot of the active job of the given kind, falling
// back to the last finished one. The second return is false when the kind
// never ran.
func (m *Manager) Status(kind Kind) (*Status, bool) {
	m.mu.Lock()
	j, ok := m.active[kind]
	if !ok {
		j, ok = m.last[kind]
	}
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

// Cancel requests cancellation of the active job of the given kind. The
// current step aborts at its next suspension point; remaining steps are
// skipped and the job terminates as failed with a canceled message.
func (m *Manager) Cancel(kind Kind) bool {
	m.mu.Lock()
	j, ok := m.active[kind]
	m.mu.Unlock()
	if !ok {
		return false
	}

	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()
	return true
}

// StartPriceSync starts the bulk price pipeline. If a price sync is already
// running its handle is returned unchanged.
func (m *Manager) StartPriceSync(items []PriceItem) (*Status, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no price items to sync")
	}
	for i, item := range items {
		if item.SKU == "" {
			return nil, fmt.Errorf("price item %d has an empty sku", i)
		}
	}

	m.mu.Lock()
	if existing, ok := m.active[KindPrice]; ok {
		m.mu.Unlock()
		return existing.snapshot(), nil
	}
	j := m.newJob(KindPrice, 1)
	m.active[KindPrice] = j
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(m.rootCtx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()

	go m.runPriceSync(ctx, j, items)
	return j.snapshot(), nil
}

// StartStockSync starts the staged stock pipeline. If a stock sync is
// already running its handle is returned unchanged.
func (m *Manager) StartStockSync() (*Status, error) {
	m.mu.Lock()
	if existing, ok := m.active[KindStock]; ok {
		m.mu.Unlock()
		return existing.snapshot(), nil
	}
	j := m.newJob(KindStock, 4)
	m.active[KindStock] = j
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(m.rootCtx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()

	go m.runStockSync(ctx, j)
	return j.snapshot(), nil
}

func (m *Manager) newJob(kind Kind, stepsTotal int) *job {
	return &job{
		id:         uuid.New().String(),
		kind:       kind,
		state:      StateRunning,
		stepsTotal: stepsTotal,
		startedAt:  time.Now(),
	}
}

// runPriceSync executes the single-step bulk price push. The upstream is
// driven synchronously: the response carries the per-item results, which are
// stored verbatim. While the request is in flight a time-based heuristic
// advances progress up to 90 percent.
func (m *Manager) runPriceSync(ctx context.Context, j *job, items []PriceItem) {
	operationID := uuid.New().String()
	slog.Info("Starting price sync",
		"jobId", j.id,
		"items", len(items),
		"operationId", operationID)

	m.emit(j.transition(StateRunning, 0, stepPushPrices, fmt.Sprintf("pushing %d prices", len(items)), nil))

	heartbeat := make(chan struct{})
	go m.priceHeartbeat(ctx, j, heartbeat)

	resp, err := m.mdm.SyncPrices(ctx, items, operationID)
	close(heartbeat)

	if err != nil {
		m.finish(ctx, j, StateFailed, failureMessage(ctx, err))
		return
	}

	j.mu.Lock()
	j.results = append(j.results, resp.Results...)
	j.mu.Unlock()

	ev := j.transition(StateRunning, 1, stepPushPrices, resp.Message, resp.Results)
	m.emit(ev)
	m.finish(ctx, j, StateSuccess,
		fmt.Sprintf("synced %d prices (%d failed, method %s)", resp.Successful, resp.Failed, resp.Method))
}

// priceHeartbeat advances the price job's percent on a timer while the bulk
// request is in flight, bounded by priceProgressCap.
func (m *Manager) priceHeartbeat(ctx context.Context, j *job, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		percent := int(float64(priceProgressCap) * float64(elapsed) / float64(m.priceEstimate))
		percent = min(percent, priceProgressCap)

		j.mu.Lock()
		if j.state.Terminal() || percent <= j.lastPercent {
			j.mu.Unlock()
			continue
		}
		j.lastPercent = percent
		ev := j.eventLocked(nil)
		j.mu.Unlock()
		m.emit(ev)
	}
}

// runStockSync executes the four stock steps: mark dirty, fetch sources,
// fan out pushes, commit. The commit runs only when every source pushed
// cleanly; otherwise the job ends in partial_failure.
func (m *Manager) runStockSync(ctx context.Context, j *job) {
	slog.Info("Starting stock sync", "jobId", j.id)

	// Step 1: mark stocks dirty in the MDM.
	m.emit(j.transition(StateRunning, 0, stepMarkDirty, "marking stocks dirty", nil))
	if err := m.mdm.MarkStocksDirty(ctx); err != nil {
		m.finish(ctx, j, StateFailed, failureMessage(ctx, err))
		return
	}
	m.emit(j.transition(StateRunning, 1, stepMarkDirty, "stocks marked dirty", nil))
	if canceled(ctx) {
		m.finish(ctx, j, StateFailed, "canceled")
		return
	}

	// Step 2: fetch the source configurations.
	m.emit(j.transition(StateRunning, 1, stepFetchSources, "fetching sources", nil))
	sources, err := m.mdm.FetchSources(ctx)
	if err != nil {
		m.finish(ctx, j, StateFailed, failureMessage(ctx, err))
		return
	}
	j.mu.Lock()
	j.sources = sources
	j.mu.Unlock()
	m.emit(j.transition(StateRunning, 2, stepFetchSources, fmt.Sprintf("%d sources configured", len(sources)), nil))
	if canceled(ctx) {
		m.finish(ctx, j, StateFailed, "canceled")
		return
	}

	// Step 3: fan out over the sources. Each source gets a bounded retry
	// budget; failures are recorded, not fatal.
	for _, source := range sources {
		if canceled(ctx) {
			m.finish(ctx, j, StateFailed, "canceled")
			return
		}
		if err := m.pushSource(ctx, source.Code); err != nil {
			if canceled(ctx) {
				m.finish(ctx, j, StateFailed, "canceled")
				return
			}
			slog.Warn("Stock source failed",
				"jobId", j.id,
				"source", source.Code,
				"error", err)
			m.metrics.RecordSourceFailure(ctx, source.Code)
			j.mu.Lock()
			j.sourcesFailed = append(j.sourcesFailed, source.Code)
			ev := j.eventLocked(nil)
			j.mu.Unlock()
			m.emit(ev)
			continue
		}
		j.mu.Lock()
		j.sourcesDone = append(j.sourcesDone, source.Code)
		ev := j.eventLocked(nil)
		j.mu.Unlock()
		m.emit(ev)
	}
	m.emit(j.transition(StateRunning, 3, stepPushSources, "source fan-out complete", nil))

	j.mu.Lock()
	failed := len(j.sourcesFailed)
	done := append([]string(nil), j.sourcesDone...)
	j.mu.Unlock()

	if failed > 0 {
		// Step 4 must not run over a partial push.
		m.finish(ctx, j, StatePartialFailure, fmt.Sprintf("%d of %d sources failed", failed, len(sources)))
		return
	}
	if canceled(ctx) {
		m.finish(ctx, j, StateFailed, "canceled")
		return
	}

	// Step 4: commit.
	m.emit(j.transition(StateRunning, 3, stepCommit, "marking sources synced", nil))
	if err := m.mdm.CommitStockSync(ctx, done); err != nil {
		m.finish(ctx, j, StateFailed, failureMessage(ctx, err))
		return
	}
	m.emit(j.transition(StateRunning, 4, stepCommit, "sources committed", nil))
	m.finish(ctx, j, StateSuccess, fmt.Sprintf("synced %d sources", len(done)))
}

// pushSource attempts one source with the configured retry budget.
func (m *Manager) pushSource(ctx context.Context, code string) error {
	var err error
	for attempt := 0; attempt <= m.sourceRetries; attempt++ {
		if canceled(ctx) {
			return ctx.Err()
		}
		err = m.mdm.PushSourceStock(ctx, code)
		if err == nil {
			return nil
		}
	}
	return err
}

// finish moves the job to a terminal state, emits the final event and
// retires it from the active table.
func (m *Manager) finish(ctx context.Context, j *job, state State, message string) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.message = message
	now := time.Now()
	j.endedAt = &now

	if state == StateSuccess {
		j.stepsDone = j.stepsTotal
		j.lastPercent = 100
	}
	ev := j.eventLocked(nil)
	duration := now.Sub(j.startedAt)
	j.mu.Unlock()

	m.emit(ev)
	m.metrics.RecordJob(ctx, string(j.kind), string(state), duration)

	m.mu.Lock()
	delete(m.active, j.kind)
	m.last[j.kind] = j
	m.mu.Unlock()

	slog.Info("Sync job finished",
		"jobId", j.id,
		"kind", string(j.kind),
		"state", string(state),
		"message", message,
		"duration", duration)
}

func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	m.pending = append(m.pending, ev)
	m.subMu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// transition updates step accounting and returns the event to emit.
func (j *job) transition(state State, stepsDone int, step, message string, delta []ItemResult) Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state = state
	if stepsDone > j.stepsDone {
		j.stepsDone = stepsDone
	}
	j.currentStep = step
	j.message = message

	percent := 100 * j.stepsDone / j.stepsTotal
	if percent > j.lastPercent {
		j.lastPercent = percent
	}
	return j.eventLocked(delta)
}

// eventLocked builds the event for the current state. Callers hold j.mu.
func (j *job) eventLocked(delta []ItemResult) Event {
	return Event{
		JobID:         j.id,
		Kind:          j.kind,
		State:         j.state,
		Percent:       j.lastPercent,
		StepsDone:     j.stepsDone,
		StepsTotal:    j.stepsTotal,
		CurrentStep:   j.currentStep,
		Message:       j.message,
		SourcesDone:   append([]string(nil), j.sourcesDone...),
		SourcesFailed: append([]string(nil), j.sourcesFailed...),
		ResultsDelta:  delta,
	}
}

func (j *job) snapshot() *Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	return &Status{
		ID:            j.id,
		Kind:          j.kind,
		State:         j.state,
		StepsTotal:    j.stepsTotal,
		StepsDone:     j.stepsDone,
		Percent:       j.lastPercent,
		CurrentStep:   j.currentStep,
		Message:       j.message,
		Sources:       append([]Source(nil), j.sources...),
		SourcesDone:   append([]string(nil), j.sourcesDone...),
		SourcesFailed: append([]string(nil), j.sourcesFailed...),
		Results:       append([]ItemResult(nil), j.results...),
		StartedAt:     j.startedAt,
		EndedAt:       j.endedAt,
	}
}

// failureMessage distinguishes cancellation from genuine failure.
func failureMessage(ctx context.Context, err error) string {
	if canceled(ctx) {
		return "canceled"
	}
	return err.Error()
}

func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
