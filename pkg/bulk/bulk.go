// Package bulk records the per resource type outcomes of a bulk merge.
package bulk

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// BulkResultEntry is the outcome of merging the batch of one resource type. Error is only set
// when the whole batch failed; partial failures are reported through MergeResultEntries.
type BulkResultEntry struct {
	ResourceType       string
	MergeResult        *storage.WriteOutcome
	MergeResultEntries []storage.EntryOutcome
	Error              error
}

type bulkResultEntryJSON struct {
	ResourceType       string                 `json:"resourceType"`
	MergeResult        *storage.WriteOutcome  `json:"mergeResult"`
	MergeResultEntries []storage.EntryOutcome `json:"mergeResultEntries"`
	Error              *string                `json:"error"`
}

func (e BulkResultEntry) MarshalJSON() ([]byte, error) {
	out := bulkResultEntryJSON{
		ResourceType:       e.ResourceType,
		MergeResult:        e.MergeResult,
		MergeResultEntries: e.MergeResultEntries,
	}
	if e.Error != nil {
		msg := e.Error.Error()
		out.Error = &msg
	}
	return json.Marshal(out)
}

// Succeeded reports whether the batch reached storage.
func (e BulkResultEntry) Succeeded() bool {
	return e.Error == nil
}

// Aggregator holds one BulkResultEntry per resource type. It is safe for concurrent use and
// stores outcomes as given.
type Aggregator struct {
	mu      sync.Mutex
	order   []string
	entries map[string]BulkResultEntry
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		entries: make(map[string]BulkResultEntry),
	}
}

// RecordSuccess records the outcome of a batch that storage accepted. entries may be nil.
func (a *Aggregator) RecordSuccess(resourceType string, outcome *storage.WriteOutcome, entries []storage.EntryOutcome) error {
	return a.record(BulkResultEntry{
		ResourceType:       resourceType,
		MergeResult:        outcome,
		MergeResultEntries: slices.Clone(entries),
	})
}

// RecordFailure records a whole batch failure.
func (a *Aggregator) RecordFailure(resourceType string, err error) error {
	if err == nil {
		return fmt.Errorf("record failure for %q: nil error", resourceType)
	}
	return a.record(BulkResultEntry{
		ResourceType: resourceType,
		Error:        err,
	})
}

func (a *Aggregator) record(entry BulkResultEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[entry.ResourceType]; ok {
		return fmt.Errorf("outcome for %q already recorded", entry.ResourceType)
	}

	a.order = append(a.order, entry.ResourceType)
	a.entries[entry.ResourceType] = entry

	return nil
}

// Get returns the entry recorded for resourceType.
func (a *Aggregator) Get(resourceType string) (BulkResultEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[resourceType]
	return e, ok
}

// Results returns the recorded entries in recording order.
func (a *Aggregator) Results() []BulkResultEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]BulkResultEntry, 0, len(a.order))
	for _, rt := range a.order {
		out = append(out, a.entries[rt])
	}

	return out
}

// SortByType orders results following types. Types not listed keep their relative order at
// the end.
func SortByType(results []BulkResultEntry, types []string) {
	rank := make(map[string]int, len(types))
	for i, t := range types {
		rank[t] = i
	}

	slices.SortStableFunc(results, func(x, y BulkResultEntry) int {
		rx, okx := rank[x.ResourceType]
		ry, oky := rank[y.ResourceType]
		switch {
		case okx && oky:
			return rx - ry
		case okx:
			return -1
		case oky:
			return 1
		default:
			return 0
		}
	})
}
