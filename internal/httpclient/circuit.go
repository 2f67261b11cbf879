package httpclient

import (
	"sync"
	"time"
)

// CircuitState is the failure-isolation state of one upstream target.
type CircuitState string

const (
	// CircuitClosed means requests flow normally.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen means requests fail fast without touching the network.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen means a single probe request is allowed through.
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	// defaultFailureThreshold is the number of consecutive failures that
	// opens the circuit.
	defaultFailureThreshold = 5

	// defaultOpenDuration is how long the circuit stays open before a probe
	// is allowed.
	defaultOpenDuration = 30 * time.Second

	// maxOpenDuration caps the doubling applied when a probe fails.
	maxOpenDuration = 10 * time.Minute
)

// circuit is the per-target circuit breaker. On a failed half-open probe the
// open duration doubles, up to maxOpenDuration.
type circuit struct {
	mu sync.Mutex

	threshold   int
	baseOpenFor time.Duration
	maxOpenFor  time.Duration
	openFor     time.Duration
	state       CircuitState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probeInUse  bool
	now         func() time.Time
}

func newCircuit(threshold int, openFor time.Duration) *circuit {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if openFor <= 0 {
		openFor = defaultOpenDuration
	}
	return &circuit{
		threshold:   threshold,
		baseOpenFor: openFor,
		maxOpenFor:  maxOpenDuration,
		openFor:     openFor,
		state:       CircuitClosed,
		now:         time.Now,
	}
}

// allow reports whether a request may proceed. In the open state it flips to
// half-open once the open duration has elapsed, admitting a single probe.
func (c *circuit) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if c.now().Sub(c.openedAt) >= c.openFor {
			c.state = CircuitHalfOpen
			c.probeInUse = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if c.probeInUse {
			return false
		}
		c.probeInUse = true
		return true
	}
	return false
}

// recordSuccess resets the breaker after a successful request.
func (c *circuit) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.probeInUse = false
	c.state = CircuitClosed
	c.openFor = c.baseOpenFor
}

// recordFailure counts a failed request, opening the circuit at the
// threshold. A failed half-open probe reopens with a doubled duration.
func (c *circuit) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailure = c.now()

	if c.state == CircuitHalfOpen {
		c.probeInUse = false
		c.openFor = min(c.openFor*2, c.maxOpenFor)
		c.state = CircuitOpen
		c.openedAt = c.lastFailure
		return
	}

	c.failures++
	if c.failures >= c.threshold {
		c.state = CircuitOpen
		c.openedAt = c.lastFailure
	}
}

// GaugeValue maps the state onto the metric encoding: 0 closed, 1 half-open,
// 2 open.
func (s CircuitState) GaugeValue() int64 {
	switch s {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}

// currentState returns the state for observability.
func (c *circuit) currentState() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
