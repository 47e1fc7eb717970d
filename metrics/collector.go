// Package metrics provides process-level counters for the harness.
//
// The Collector accumulates counters across dispatches and polling cycles.
// It is a leaf package with no internal dependencies; backend kinds are
// passed as plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Dispatch lifecycle
	DispatchesStarted   int64
	DispatchesCompleted int64

	// Attempts
	AttemptsSucceeded int64
	AttemptsFailed    int64
	AttemptsTimedOut  int64
	FailedByBackend   map[string]int64
	SetupFailures     int64
	PlanFailures      int64
	IPCDecodeErrors   int64

	// Polling
	EventsSeen          int64
	EventsHandled       int64
	EventsFailed        int64
	EventsWithoutTarget int64
	CursorAdvances      int64

	// Lode / Storage
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Adapter
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	Mode           string
	StorageBackend string
	RunID          string
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	dispatchesStarted   int64
	dispatchesCompleted int64

	attemptsSucceeded int64
	attemptsFailed    int64
	attemptsTimedOut  int64
	failedByBackend   map[string]int64
	setupFailures     int64
	planFailures      int64
	ipcDecodeErrors   int64

	eventsSeen          int64
	eventsHandled       int64
	eventsFailed        int64
	eventsWithoutTarget int64
	cursorAdvances      int64

	storeWriteSuccess int64
	storeWriteFailure int64

	adapterPublishFailure int64

	mode           string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
// mode is "dry-run" or "live"; storageBackend is the report store kind.
func NewCollector(mode, storageBackend, runID string) *Collector {
	return &Collector{
		failedByBackend: make(map[string]int64),
		mode:            mode,
		storageBackend:  storageBackend,
		runID:           runID,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Dispatch lifecycle ---

// IncDispatchStarted records a dispatch start.
func (c *Collector) IncDispatchStarted() {
	if c == nil {
		return
	}
	c.inc(&c.dispatchesStarted)
}

// IncDispatchCompleted records a dispatch that produced a RunSet.
func (c *Collector) IncDispatchCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.dispatchesCompleted)
}

// --- Attempts ---

// IncAttemptSucceeded records an attempt whose result derived success.
func (c *Collector) IncAttemptSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.attemptsSucceeded)
}

// IncAttemptFailed records a failed attempt for the given backend kind.
func (c *Collector) IncAttemptFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.attemptsFailed++
	c.failedByBackend[kind]++
	c.mu.Unlock()
}

// IncAttemptTimedOut records an attempt abandoned at the timeout bound.
// Timed-out attempts are also counted by IncAttemptFailed.
func (c *Collector) IncAttemptTimedOut() {
	if c == nil {
		return
	}
	c.inc(&c.attemptsTimedOut)
}

// IncSetupFailure records a backend whose one-time setup failed.
func (c *Collector) IncSetupFailure() {
	if c == nil {
		return
	}
	c.inc(&c.setupFailures)
}

// IncPlanFailure records a backend that could not expand into invocations.
func (c *Collector) IncPlanFailure() {
	if c == nil {
		return
	}
	c.inc(&c.planFailures)
}

// IncIPCDecodeErrors records a driver frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.inc(&c.ipcDecodeErrors)
}

// --- Polling ---

// IncEventSeen records a trigger event returned by a source.
func (c *Collector) IncEventSeen() {
	if c == nil {
		return
	}
	c.inc(&c.eventsSeen)
}

// IncEventHandled records a trigger event passed to the handler.
func (c *Collector) IncEventHandled() {
	if c == nil {
		return
	}
	c.inc(&c.eventsHandled)
}

// IncEventFailed records a trigger event whose handler returned an error.
func (c *Collector) IncEventFailed() {
	if c == nil {
		return
	}
	c.inc(&c.eventsFailed)
}

// IncEventWithoutTarget records a trigger event with no extractable target.
func (c *Collector) IncEventWithoutTarget() {
	if c == nil {
		return
	}
	c.inc(&c.eventsWithoutTarget)
}

// IncCursorAdvance records a persisted cursor advance.
func (c *Collector) IncCursorAdvance() {
	if c == nil {
		return
	}
	c.inc(&c.cursorAdvances)
}

// --- Lode / Storage ---
// Store counters are per-object. A report bundle of N files counts N writes.

// IncStoreWriteSuccess records a successful report object write.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.storeWriteSuccess)
}

// IncStoreWriteFailure records a failed report object write.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.storeWriteFailure)
}

// --- Adapter ---

// IncAdapterPublishFailure records a failed adapter notification.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := make(map[string]int64, len(c.failedByBackend))
	for k, v := range c.failedByBackend {
		failed[k] = v
	}

	return Snapshot{
		DispatchesStarted:   c.dispatchesStarted,
		DispatchesCompleted: c.dispatchesCompleted,

		AttemptsSucceeded: c.attemptsSucceeded,
		AttemptsFailed:    c.attemptsFailed,
		AttemptsTimedOut:  c.attemptsTimedOut,
		FailedByBackend:   failed,
		SetupFailures:     c.setupFailures,
		PlanFailures:      c.planFailures,
		IPCDecodeErrors:   c.ipcDecodeErrors,

		EventsSeen:          c.eventsSeen,
		EventsHandled:       c.eventsHandled,
		EventsFailed:        c.eventsFailed,
		EventsWithoutTarget: c.eventsWithoutTarget,
		CursorAdvances:      c.cursorAdvances,

		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,

		AdapterPublishFailure: c.adapterPublishFailure,

		Mode:           c.mode,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}
