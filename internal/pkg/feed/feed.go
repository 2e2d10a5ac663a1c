package feed

import (
	"sort"
	"sync"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
)

const DefaultMaxRecords = 10000

// Feed is the ordered record history the dashboard classifies from. Only the
// newest max records are kept.
type Feed struct {
	mu      sync.RWMutex
	records []telemetry.Record
	latest  *telemetry.Record
	max     int
}

func New(max int) *Feed {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Feed{
		max: max,
	}
}

func (f *Feed) Append(r telemetry.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records = append(f.records, r)
	f.latest = &r

	// compact lazily so appends stay cheap once the feed is full
	if len(f.records) >= 2*f.max {
		kept := make([]telemetry.Record, f.max, 2*f.max)
		copy(kept, f.records[len(f.records)-f.max:])
		f.records = kept
	}
}

// Seed loads previously persisted records in arrival order. It does not
// change Latest, since nothing has arrived yet.
func (f *Feed) Seed(records []telemetry.Record) {
	sorted := make([]telemetry.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(sorted, f.records...)
	if len(f.records) > f.max {
		f.records = f.records[len(f.records)-f.max:]
	}
}

// Records returns a copy of the retained records, oldest first.
func (f *Feed) Records() []telemetry.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()

	window := f.window()
	out := make([]telemetry.Record, len(window))
	copy(out, window)
	return out
}

func (f *Feed) Latest() (telemetry.Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return telemetry.Record{}, false
	}
	return *f.latest, true
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.window())
}

func (f *Feed) window() []telemetry.Record {
	if len(f.records) > f.max {
		return f.records[len(f.records)-f.max:]
	}
	return f.records
}
