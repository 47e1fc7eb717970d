package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

// HistoryDataset is the dataset ID run history is written under.
const HistoryDataset = "lhrunner-history"

// Record kinds. record_kind is also a partition key.
const (
	RecordKindRun     = "run"
	RecordKindMetrics = "metrics"
)

// ErrNoMetricsFound is returned when no metrics record exists in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// newHistoryDataset partitions records by UTC day and kind.
func newHistoryDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(HistoryDataset),
		factory,
		lode.WithHiveLayout("day", "record_kind"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// RunSetEntry describes one handled run set for the history.
type RunSetEntry struct {
	RunID  string
	Bundle string
	Event  types.TriggerEvent
	Set    *types.RunSet
	DryRun bool
	At     time.Time
}

// History appends run outcomes and poll metrics to a Lode dataset and
// answers per-backend queries over it.
type History struct {
	dataset   lode.Dataset
	collector *metrics.Collector
}

// NewHistory opens the history dataset on factory. collector may be nil.
func NewHistory(factory lode.StoreFactory, collector *metrics.Collector) (*History, error) {
	ds, err := newHistoryDataset(factory)
	if err != nil {
		return nil, WrapInitError(err, HistoryDataset)
	}
	return &History{dataset: ds, collector: collector}, nil
}

// RecordRunSet writes one record per run in the set, in set order.
func (h *History) RecordRunSet(ctx context.Context, e RunSetEntry) error {
	if e.Set == nil || len(e.Set.Results) == 0 {
		return nil
	}
	records := make([]any, 0, len(e.Set.Results))
	for _, r := range e.Set.Results {
		records = append(records, toRunRecordMap(e, r))
	}
	return h.write(ctx, records, day(e.At))
}

// RecordMetrics writes a poll metrics snapshot.
func (h *History) RecordMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	return h.write(ctx, []any{toMetricsRecordMap(snap, at)}, day(at))
}

func (h *History) write(ctx context.Context, records []any, day string) error {
	if _, err := h.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		h.collector.IncStoreWriteFailure()
		return WrapWriteError(err, HistoryDataset+"/day="+day)
	}
	h.collector.IncStoreWriteSuccess()
	return nil
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func toRunRecordMap(e RunSetEntry, r types.RunResult) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindRun,
		"run_id":      e.RunID,
		"bundle":      e.Bundle,
		"url":         e.Set.Target,
		"type":        r.Type,
		"success":     r.Success,
		"trigger":     string(e.Event.Kind),
		"issue":       e.Event.Issue,
		"dry_run":     e.DryRun,
		"ts":          e.At.UTC().Format(time.RFC3339Nano),
		"day":         day(e.At),
	}
	if ms := r.Measurement; ms != nil && ms.Fatal() {
		m["runtime_error"] = ms.RuntimeError.Code
	}
	return m
}

func toMetricsRecordMap(snap metrics.Snapshot, at time.Time) map[string]any {
	return map[string]any{
		"record_kind":              RecordKindMetrics,
		"mode":                     snap.Mode,
		"storage_backend":          snap.StorageBackend,
		"dispatches_started":       snap.DispatchesStarted,
		"dispatches_completed":     snap.DispatchesCompleted,
		"attempts_succeeded":       snap.AttemptsSucceeded,
		"attempts_failed":          snap.AttemptsFailed,
		"attempts_timed_out":       snap.AttemptsTimedOut,
		"setup_failures":           snap.SetupFailures,
		"plan_failures":            snap.PlanFailures,
		"ipc_decode_errors":        snap.IPCDecodeErrors,
		"events_seen":              snap.EventsSeen,
		"events_handled":           snap.EventsHandled,
		"events_failed":            snap.EventsFailed,
		"events_without_target":    snap.EventsWithoutTarget,
		"cursor_advances":          snap.CursorAdvances,
		"store_write_success":      snap.StoreWriteSuccess,
		"store_write_failure":      snap.StoreWriteFailure,
		"adapter_publish_failures": snap.AdapterPublishFailure,
		"failed_by_backend":        snap.FailedByBackend,
		"ts":                       at.UTC().Format(time.RFC3339Nano),
		"day":                      day(at),
	}
}

// BackendStats aggregates history records for one backend label.
type BackendStats struct {
	Type        string `json:"type"`
	Runs        int    `json:"runs"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	LastFailure string `json:"last_failure,omitempty"`
}

// PassRate returns Succeeded/Runs, or 0 with no runs.
func (s BackendStats) PassRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Runs)
}

// BackendStats aggregates run records per backend label, sorted by label.
// A non-empty day restricts the scan to that day's partition. Records are
// deduplicated by (run_id, type).
func (h *History) BackendStats(ctx context.Context, day string) ([]BackendStats, error) {
	snapshots, err := h.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, HistoryDataset+"/snapshots")
	}

	seen := make(map[string]struct{})
	byType := make(map[string]*BackendStats)
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindRun) || !snapshotMatchesFilter(snap, "day", day) {
			continue
		}
		data, err := h.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", HistoryDataset, snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindRun {
				continue
			}
			if day != "" && toString(record["day"]) != day {
				continue
			}
			key := toString(record["run_id"]) + "\x00" + toString(record["type"])
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			typ := toString(record["type"])
			st := byType[typ]
			if st == nil {
				st = &BackendStats{Type: typ}
				byType[typ] = st
			}
			st.Runs++
			if success, _ := record["success"].(bool); success {
				st.Succeeded++
			} else {
				st.Failed++
				st.LastFailure = toString(record["ts"])
			}
		}
	}

	out := make([]BackendStats, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// LatestMetrics returns the most recent metrics snapshot and its timestamp.
func (h *History) LatestMetrics(ctx context.Context) (*metrics.Snapshot, time.Time, error) {
	snapshots, err := h.dataset.Snapshots(ctx)
	if err != nil {
		return nil, time.Time{}, WrapReadError(err, HistoryDataset+"/snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindMetrics) {
			continue
		}
		data, err := h.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, time.Time{}, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", HistoryDataset, snap.ID))
		}
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			ts, _ := time.Parse(time.RFC3339Nano, toString(record["ts"]))
			return fromMetricsRecordMap(record), ts, nil
		}
	}
	return nil, time.Time{}, ErrNoMetricsFound
}

func fromMetricsRecordMap(m map[string]any) *metrics.Snapshot {
	return &metrics.Snapshot{
		Mode:                  toString(m["mode"]),
		StorageBackend:        toString(m["storage_backend"]),
		DispatchesStarted:     toInt64(m["dispatches_started"]),
		DispatchesCompleted:   toInt64(m["dispatches_completed"]),
		AttemptsSucceeded:     toInt64(m["attempts_succeeded"]),
		AttemptsFailed:        toInt64(m["attempts_failed"]),
		AttemptsTimedOut:      toInt64(m["attempts_timed_out"]),
		SetupFailures:         toInt64(m["setup_failures"]),
		PlanFailures:          toInt64(m["plan_failures"]),
		IPCDecodeErrors:       toInt64(m["ipc_decode_errors"]),
		EventsSeen:            toInt64(m["events_seen"]),
		EventsHandled:         toInt64(m["events_handled"]),
		EventsFailed:          toInt64(m["events_failed"]),
		EventsWithoutTarget:   toInt64(m["events_without_target"]),
		CursorAdvances:        toInt64(m["cursor_advances"]),
		StoreWriteSuccess:     toInt64(m["store_write_success"]),
		StoreWriteFailure:     toInt64(m["store_write_failure"]),
		AdapterPublishFailure: toInt64(m["adapter_publish_failures"]),
		FailedByBackend:       toInt64Map(m["failed_by_backend"]),
	}
}

// snapshotMatchesFilter reports whether any file of snap lies in the
// key=value partition. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	if snap.Manifest == nil {
		return false
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue reports whether a Hive path has an exact key=value
// segment, so day=2026-01-1 never matches day=2026-01-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64Map(v any) map[string]int64 {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]int64, len(raw))
	for k, n := range raw {
		out[k] = toInt64(n)
	}
	return out
}

// toInt64 accepts the numeric types a codec may decode to.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
