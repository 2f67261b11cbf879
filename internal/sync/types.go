// Package sync coordinates the multi-step synchronization of catalog data
// toward the upstream commerce and MDM APIs: the bulk price push and the
// per-source stock pipeline, with fine-grained progress events and
// partial-failure accounting.
package sync

import (
	"context"
	"time"
)

// Kind identifies a sync pipeline.
type Kind string

const (
	// KindPrice is the bulk price sync.
	KindPrice Kind = "price"

	// KindStock is the staged stock sync.
	KindStock Kind = "stock"
)

// State is the lifecycle state of a sync job.
type State string

const (
	// StateRunning means the job is executing its steps.
	StateRunning State = "running"

	// StateSuccess means every step completed and no source failed.
	StateSuccess State = "success"

	// StatePartialFailure means the stock fan-out left failed sources; the
	// commit step was skipped.
	StatePartialFailure State = "partial_failure"

	// StateFailed means an unrecoverable error (or cancellation) aborted
	// the job; remaining steps were not attempted.
	StateFailed State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StatePartialFailure || s == StateFailed
}

// PriceItem is one sku/price pair pushed by the price sync.
type PriceItem struct {
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
}

// Item result statuses.
const (
	ItemSuccess = "success"
	ItemFailed  = "failed"
)

// ItemResult is the per-item outcome reported by the bulk price endpoint.
type ItemResult struct {
	SKU    string  `json:"sku"`
	Price  float64 `json:"price,omitempty"`
	Status string  `json:"status"`
	Method string  `json:"method,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// PriceSyncResponse is the bulk price endpoint's response body.
type PriceSyncResponse struct {
	Method     string       `json:"method"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	BulkID     string       `json:"bulkId,omitempty"`
	Results    []ItemResult `json:"results"`
	Message    string       `json:"message"`
}

// Source is a named inventory location the stock sync fans out over.
type Source struct {
	Code string `json:"code_source"`
	Name string `json:"name,omitempty"`
}

// MDM is the set of upstream operations the orchestrator drives. The
// concrete implementation lives in the commerce package; tests substitute
// fakes.
type MDM interface {
	// SyncPrices posts the price items as one bulk operation. The operation
	// id makes re-submission a no-op on servers that support it.
	SyncPrices(ctx context.Context, items []PriceItem, operationID string) (*PriceSyncResponse, error)

	// MarkStocksDirty flags the MDM's stock records for synchronization.
	MarkStocksDirty(ctx context.Context) error

	// FetchSources returns the configured inventory sources.
	FetchSources(ctx context.Context) ([]Source, error)

	// PushSourceStock pushes one source's inventory to the commerce API.
	PushSourceStock(ctx context.Context, sourceCode string) error

	// CommitStockSync marks the pushed sources as synced.
	CommitStockSync(ctx context.Context, sourceCodes []string) error
}

// Event is the progress notification emitted on every job transition.
// Within one job, events arrive in emission order and Percent never
// decreases.
type Event struct {
	JobID         string       `json:"jobId"`
	Kind          Kind         `json:"kind"`
	State         State        `json:"state"`
	Percent       int          `json:"percent"`
	StepsDone     int          `json:"stepsDone"`
	StepsTotal    int          `json:"stepsTotal"`
	CurrentStep   string       `json:"currentStep"`
	Message       string       `json:"message"`
	SourcesDone   []string     `json:"sourcesDone,omitempty"`
	SourcesFailed []string     `json:"sourcesFailed,omitempty"`
	ResultsDelta  []ItemResult `json:"resultsDelta,omitempty"`
}

// Status is the read-only snapshot of a job.
type Status struct {
	ID            string       `json:"id"`
	Kind          Kind         `json:"kind"`
	State         State        `json:"state"`
	StepsTotal    int          `json:"stepsTotal"`
	StepsDone     int          `json:"stepsDone"`
	Percent       int          `json:"percent"`
	CurrentStep   string       `json:"currentStep"`
	Message       string       `json:"message"`
	Sources       []Source     `json:"sources,omitempty"`
	SourcesDone   []string     `json:"sourcesDone,omitempty"`
	SourcesFailed []string     `json:"sourcesFailed,omitempty"`
	Results       []ItemResult `json:"results,omitempty"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
}
