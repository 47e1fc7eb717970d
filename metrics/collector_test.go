package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("live", "fs", "run-001")

	c.IncDispatchStarted()
	c.IncDispatchCompleted()
	c.IncAttemptSucceeded()
	c.IncAttemptFailed("cli")
	c.IncAttemptFailed("psi")
	c.IncAttemptFailed("psi")
	c.IncAttemptTimedOut()
	c.IncSetupFailure()
	c.IncPlanFailure()
	c.IncIPCDecodeErrors()
	c.IncEventSeen()
	c.IncEventSeen()
	c.IncEventHandled()
	c.IncEventFailed()
	c.IncEventWithoutTarget()
	c.IncCursorAdvance()
	c.IncStoreWriteSuccess()
	c.IncStoreWriteSuccess()
	c.IncStoreWriteFailure()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"DispatchesStarted", s.DispatchesStarted, 1},
		{"DispatchesCompleted", s.DispatchesCompleted, 1},
		{"AttemptsSucceeded", s.AttemptsSucceeded, 1},
		{"AttemptsFailed", s.AttemptsFailed, 3},
		{"AttemptsTimedOut", s.AttemptsTimedOut, 1},
		{"SetupFailures", s.SetupFailures, 1},
		{"PlanFailures", s.PlanFailures, 1},
		{"IPCDecodeErrors", s.IPCDecodeErrors, 1},
		{"EventsFailed", s.EventsFailed, 1},
		{"EventsSeen", s.EventsSeen, 2},
		{"EventsHandled", s.EventsHandled, 1},
		{"EventsWithoutTarget", s.EventsWithoutTarget, 1},
		{"CursorAdvances", s.CursorAdvances, 1},
		{"StoreWriteSuccess", s.StoreWriteSuccess, 2},
		{"StoreWriteFailure", s.StoreWriteFailure, 1},
		{"AdapterPublishFailure", s.AdapterPublishFailure, 1},
		{"FailedByBackend[cli]", s.FailedByBackend["cli"], 1},
		{"FailedByBackend[psi]", s.FailedByBackend["psi"], 2},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("dry-run", "s3", "run-42")
	s := c.Snapshot()

	if s.Mode != "dry-run" {
		t.Errorf("Mode = %q, want %q", s.Mode, "dry-run")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("live", "fs", "run-001")
	c.IncDispatchStarted()
	c.IncAttemptFailed("cli")

	s1 := c.Snapshot()

	c.IncDispatchCompleted()
	c.IncAttemptFailed("cli")

	if s1.DispatchesCompleted != 0 {
		t.Errorf("s1.DispatchesCompleted = %d, want 0 (snapshot should be frozen)", s1.DispatchesCompleted)
	}
	if s1.FailedByBackend["cli"] != 1 {
		t.Errorf("s1.FailedByBackend[cli] = %d, want 1 (snapshot should be frozen)", s1.FailedByBackend["cli"])
	}

	// Mutating the snapshot map must not leak into the collector
	s1.FailedByBackend["injected"] = 7
	s2 := c.Snapshot()
	if _, exists := s2.FailedByBackend["injected"]; exists {
		t.Error("FailedByBackend should not contain injected key from snapshot mutation")
	}
	if s2.FailedByBackend["cli"] != 2 {
		t.Errorf("s2.FailedByBackend[cli] = %d, want 2", s2.FailedByBackend["cli"])
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncDispatchStarted()
	c.IncDispatchCompleted()
	c.IncAttemptSucceeded()
	c.IncAttemptFailed("cli")
	c.IncAttemptTimedOut()
	c.IncSetupFailure()
	c.IncPlanFailure()
	c.IncIPCDecodeErrors()
	c.IncEventSeen()
	c.IncEventHandled()
	c.IncEventFailed()
	c.IncEventWithoutTarget()
	c.IncCursorAdvance()
	c.IncStoreWriteSuccess()
	c.IncStoreWriteFailure()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()
	if s.DispatchesStarted != 0 {
		t.Errorf("nil collector snapshot DispatchesStarted = %d, want 0", s.DispatchesStarted)
	}
	if s.FailedByBackend != nil {
		t.Errorf("nil collector snapshot FailedByBackend should be nil, got %v", s.FailedByBackend)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("live", "fs", "run-001")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncEventSeen()
				c.IncAttemptFailed("psi")
				c.IncStoreWriteSuccess()
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.EventsSeen != want {
		t.Errorf("EventsSeen = %d, want %d", s.EventsSeen, want)
	}
	if s.FailedByBackend["psi"] != want {
		t.Errorf("FailedByBackend[psi] = %d, want %d", s.FailedByBackend["psi"], want)
	}
	if s.StoreWriteSuccess != want {
		t.Errorf("StoreWriteSuccess = %d, want %d", s.StoreWriteSuccess, want)
	}
}
