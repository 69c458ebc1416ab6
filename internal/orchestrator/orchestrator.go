// Package orchestrator fans configured promotion pairs out to a bounded
// worker pool and aggregates a deterministic run summary.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planops/almsync/internal/audit"
	"github.com/planops/almsync/internal/directory"
	"github.com/planops/almsync/internal/executor"
	"github.com/planops/almsync/internal/plan"
)

// ErrNoPairs is the run-level precondition failure for an empty
// configuration.
var ErrNoPairs = errors.New("no promotion pairs configured")

// Processor drives a single plan item to a terminal state.
type Processor interface {
	Process(ctx context.Context, item *plan.Item)
}

// Recorder receives each terminal entry. audit.NewNopRecorder satisfies it
// when no sink is configured.
type Recorder interface {
	Record(ctx context.Context, rec audit.Record) error
}

type Pair struct {
	Source directory.Ref
	Target directory.Ref
}

// Entry is one line of the run summary: exactly one per configured pair, in
// configuration order.
type Entry struct {
	PairIndex     int               `json:"pairIndex"`
	SourceModelID string            `json:"sourceModelId"`
	TargetModelID string            `json:"targetModelId"`
	RevisionName  string            `json:"revisionName,omitempty"`
	State         plan.State        `json:"state"`
	Reason        string            `json:"reason,omitempty"`
	Outcome       *executor.Outcome `json:"outcome,omitempty"`
}

type Summary struct {
	RunID      uuid.UUID `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Entries    []Entry   `json:"entries"`
}

type Config struct {
	Concurrency int
	Recorder    Recorder
	Logger      *log.Logger
}

type Orchestrator struct {
	processor   Processor
	concurrency int
	recorder    Recorder
	logger      *log.Logger

	mu      sync.Mutex
	runID   uuid.UUID
	total   int
	entries []Entry
}

func New(processor Processor, cfg Config) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NewNopRecorder()
	}
	return &Orchestrator{
		processor:   processor,
		concurrency: concurrency,
		recorder:    recorder,
		logger:      logger,
	}
}

// Run processes every pair to a terminal state with at most the configured
// number of workers in flight. Each worker drives one item fully before
// taking another. The returned entries are sorted back into configuration
// order regardless of completion order.
func (o *Orchestrator) Run(ctx context.Context, pairs []Pair) (Summary, error) {
	if len(pairs) == 0 {
		return Summary{}, ErrNoPairs
	}

	runID := uuid.New()
	started := time.Now().UTC()
	o.mu.Lock()
	o.runID = runID
	o.total = len(pairs)
	o.entries = nil
	o.mu.Unlock()

	items := make([]*plan.Item, len(pairs))
	work := make(chan *plan.Item)

	var wg sync.WaitGroup
	workers := o.concurrency
	if workers > len(pairs) {
		workers = len(pairs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				o.processor.Process(ctx, item)
				if item.State.Terminal() {
					o.collect(ctx, runID, item)
				}
			}
		}()
	}

	for i, pair := range pairs {
		items[i] = plan.NewItem(i, pair.Source, pair.Target)
		work <- items[i]
	}
	close(work)
	wg.Wait()

	summary := Summary{
		RunID:     runID,
		StartedAt: started,
		Entries:   o.finalize(ctx, runID, items),
	}
	summary.FinishedAt = time.Now().UTC()
	o.logSummary(summary)
	return summary, nil
}

// collect appends a terminal entry under the lock and forwards it to the
// recorder. Recorder failures are logged, never propagated.
func (o *Orchestrator) collect(ctx context.Context, runID uuid.UUID, item *plan.Item) {
	entry := entryFor(item)
	o.mu.Lock()
	o.entries = append(o.entries, entry)
	o.mu.Unlock()

	if err := o.recorder.Record(ctx, audit.Record{
		RunID:         runID,
		PairIndex:     entry.PairIndex,
		SourceModelID: entry.SourceModelID,
		TargetModelID: entry.TargetModelID,
		RevisionName:  entry.RevisionName,
		State:         string(entry.State),
		Reason:        entry.Reason,
		Outcome:       outcomeFields(entry.Outcome),
	}); err != nil {
		o.logger.Printf("audit record for pair %d failed: %v", entry.PairIndex+1, err)
	}
}

// finalize produces one entry per configured pair in configuration order.
// Items that never reached a terminal state are reported as incomplete
// rather than silently dropped.
func (o *Orchestrator) finalize(ctx context.Context, runID uuid.UUID, items []*plan.Item) []Entry {
	o.mu.Lock()
	collected := make(map[int]bool, len(o.entries))
	for _, e := range o.entries {
		collected[e.PairIndex] = true
	}
	o.mu.Unlock()

	for _, item := range items {
		if collected[item.PairIndex] {
			continue
		}
		item.State = plan.StateIncomplete
		if item.Reason == "" {
			item.Reason = "item did not reach a terminal state before shutdown"
		}
		o.collect(ctx, runID, item)
	}

	o.mu.Lock()
	entries := make([]Entry, len(o.entries))
	copy(entries, o.entries)
	o.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].PairIndex < entries[j].PairIndex })
	return entries
}

// Progress returns a snapshot of the entries collected so far, sorted by
// pair index, for the status endpoint.
func (o *Orchestrator) Progress() (uuid.UUID, int, []Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := make([]Entry, len(o.entries))
	copy(entries, o.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].PairIndex < entries[j].PairIndex })
	return o.runID, o.total, entries
}

func (o *Orchestrator) logSummary(summary Summary) {
	o.logger.Printf("run %s finished: %d pairs", summary.RunID, len(summary.Entries))
	for _, e := range summary.Entries {
		if e.Reason != "" {
			o.logger.Printf("  pair %d %s -> %s: %s (%s)", e.PairIndex+1, e.SourceModelID, e.TargetModelID, e.State, e.Reason)
		} else {
			o.logger.Printf("  pair %d %s -> %s: %s", e.PairIndex+1, e.SourceModelID, e.TargetModelID, e.State)
		}
	}
}

func entryFor(item *plan.Item) Entry {
	entry := Entry{
		PairIndex:     item.PairIndex,
		SourceModelID: item.SourceRef.ModelID,
		TargetModelID: item.TargetRef.ModelID,
		State:         item.State,
		Reason:        item.Reason,
		Outcome:       item.Outcome,
	}
	if item.Revision != nil {
		entry.RevisionName = item.Revision.Name
	}
	return entry
}

func outcomeFields(outcome *executor.Outcome) audit.Outcome {
	if outcome == nil {
		return audit.Outcome{}
	}
	return audit.Outcome{
		Method:    string(outcome.Method),
		Succeeded: outcome.Succeeded,
		Detail:    outcome.Detail,
	}
}
