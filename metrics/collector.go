// Package metrics provides consumer metrics collection.
//
// The Collector accumulates counters across the runs of one consumer.
// It is a leaf package with no internal dependencies; event types are
// recorded as plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted  int64 `json:"runs_started"`
	RunsFinished int64 `json:"runs_finished"`
	RunsFailed   int64 `json:"runs_failed"`
	RunsAborted  int64 `json:"runs_aborted"`

	// Stream
	EventsReceived int64            `json:"events_received"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	ParseErrors    int64            `json:"parse_errors"`
	BytesReceived  int64            `json:"bytes_received"`

	// Failures
	TransportErrors int64 `json:"transport_errors"`
	ReadErrors      int64 `json:"read_errors"`
	IdleTimeouts    int64 `json:"idle_timeouts"`

	// Adapter
	AdapterPublishSuccess int64 `json:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	Endpoint string `json:"endpoint"`
	Adapter  string `json:"adapter,omitempty"`
}

// Collector accumulates metrics.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted  int64
	runsFinished int64
	runsFailed   int64
	runsAborted  int64

	eventsReceived int64
	eventsByType   map[string]int64
	parseErrors    int64
	bytesReceived  int64

	transportErrors int64
	readErrors      int64
	idleTimeouts    int64

	adapterPublishSuccess int64
	adapterPublishFailure int64

	endpoint string
	adapter  string
}

// NewCollector creates a Collector with dimension labels.
// adapter may be empty when no notification adapter is configured.
func NewCollector(endpoint, adapter string) *Collector {
	return &Collector{
		eventsByType: make(map[string]int64),
		endpoint:     endpoint,
		adapter:      adapter,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.inc(&c.runsStarted)
}

// IncRunFinished records a run whose stream ended cleanly.
func (c *Collector) IncRunFinished() {
	if c == nil {
		return
	}
	c.inc(&c.runsFinished)
}

// IncRunFailed records a run that ended with a transport or read error.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.inc(&c.runsFailed)
}

// IncRunAborted records an aborted or superseded run.
func (c *Collector) IncRunAborted() {
	if c == nil {
		return
	}
	c.inc(&c.runsAborted)
}

// --- Stream ---

// IncEvent records one folded event of the given type.
func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsReceived++
	if c.eventsByType == nil {
		c.eventsByType = make(map[string]int64)
	}
	c.eventsByType[eventType]++
	c.mu.Unlock()
}

// IncParseError records a malformed line.
func (c *Collector) IncParseError() {
	if c == nil {
		return
	}
	c.inc(&c.parseErrors)
}

// AddBytes records bytes read from the stream.
func (c *Collector) AddBytes(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived += n
	c.mu.Unlock()
}

// --- Failures ---

// IncTransportError records a failure to establish the stream.
func (c *Collector) IncTransportError() {
	if c == nil {
		return
	}
	c.inc(&c.transportErrors)
}

// IncReadError records a failure while reading an established stream.
func (c *Collector) IncReadError() {
	if c == nil {
		return
	}
	c.inc(&c.readErrors)
}

// IncIdleTimeout records a run ended by the idle timeout.
func (c *Collector) IncIdleTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.idleTimeouts)
}

// --- Adapter ---

// IncAdapterPublishSuccess records a delivered run-finished notification.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishSuccess)
}

// IncAdapterPublishFailure records a failed run-finished notification.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.eventsByType))
	for k, v := range c.eventsByType {
		byType[k] = v
	}

	return Snapshot{
		RunsStarted:  c.runsStarted,
		RunsFinished: c.runsFinished,
		RunsFailed:   c.runsFailed,
		RunsAborted:  c.runsAborted,

		EventsReceived: c.eventsReceived,
		EventsByType:   byType,
		ParseErrors:    c.parseErrors,
		BytesReceived:  c.bytesReceived,

		TransportErrors: c.transportErrors,
		ReadErrors:      c.readErrors,
		IdleTimeouts:    c.idleTimeouts,

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Endpoint: c.endpoint,
		Adapter:  c.adapter,
	}
}
