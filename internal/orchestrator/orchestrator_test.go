package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planops/almsync/internal/audit"
	"github.com/planops/almsync/internal/directory"
	"github.com/planops/almsync/internal/executor"
	"github.com/planops/almsync/internal/orchestrator"
	"github.com/planops/almsync/internal/plan"
)

// stubProcessor drives every item to a scripted terminal state and tracks how
// many workers run at once.
type stubProcessor struct {
	state   func(item *plan.Item) plan.State
	block   chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *stubProcessor) Process(ctx context.Context, item *plan.Item) {
	n := p.active.Add(1)
	for {
		max := p.maxSeen.Load()
		if n <= max || p.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	if p.block != nil {
		<-p.block
	}
	p.active.Add(-1)

	if ctx.Err() != nil {
		return
	}
	if p.state != nil {
		item.State = p.state(item)
	} else {
		item.State = plan.StatePromoted
		item.Outcome = &executor.Outcome{Method: executor.MethodPrimary, Succeeded: true}
	}
}

type memRecorder struct {
	mu      sync.Mutex
	records []audit.Record
	fail    bool
}

func (r *memRecorder) Record(ctx context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("sink unavailable")
	}
	r.records = append(r.records, rec)
	return nil
}

func makePairs(n int) []orchestrator.Pair {
	pairs := make([]orchestrator.Pair, n)
	for i := range pairs {
		pairs[i] = orchestrator.Pair{
			Source: directory.Ref{ModelID: fmt.Sprintf("src-%d", i)},
			Target: directory.Ref{ModelID: fmt.Sprintf("dst-%d", i)},
		}
	}
	return pairs
}

func TestRunNoPairs(t *testing.T) {
	orch := orchestrator.New(&stubProcessor{}, orchestrator.Config{})
	_, err := orch.Run(context.Background(), nil)
	assert.ErrorIs(t, err, orchestrator.ErrNoPairs)
}

func TestRunOneEntryPerPairInConfigOrder(t *testing.T) {
	proc := &stubProcessor{}
	orch := orchestrator.New(proc, orchestrator.Config{Concurrency: 3})

	pairs := makePairs(7)
	summary, err := orch.Run(context.Background(), pairs)
	require.NoError(t, err)

	require.Len(t, summary.Entries, len(pairs))
	for i, e := range summary.Entries {
		assert.Equal(t, i, e.PairIndex)
		assert.Equal(t, fmt.Sprintf("src-%d", i), e.SourceModelID)
		assert.Equal(t, fmt.Sprintf("dst-%d", i), e.TargetModelID)
		assert.Equal(t, plan.StatePromoted, e.State)
	}
	assert.NotEqual(t, uuid.Nil, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestRunBoundsConcurrency(t *testing.T) {
	proc := &stubProcessor{block: make(chan struct{})}
	orch := orchestrator.New(proc, orchestrator.Config{Concurrency: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.Run(context.Background(), makePairs(6))
	}()
	close(proc.block)
	<-done

	assert.LessOrEqual(t, proc.maxSeen.Load(), int32(2))
}

func TestRunMixedTerminalStates(t *testing.T) {
	proc := &stubProcessor{state: func(item *plan.Item) plan.State {
		switch item.PairIndex {
		case 1:
			return plan.StateSkipped
		case 2:
			return plan.StatePromoteFailed
		default:
			return plan.StatePromoted
		}
	}}
	orch := orchestrator.New(proc, orchestrator.Config{Concurrency: 4})

	summary, err := orch.Run(context.Background(), makePairs(4))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 4)
	assert.Equal(t, plan.StatePromoted, summary.Entries[0].State)
	assert.Equal(t, plan.StateSkipped, summary.Entries[1].State)
	assert.Equal(t, plan.StatePromoteFailed, summary.Entries[2].State)
	assert.Equal(t, plan.StatePromoted, summary.Entries[3].State)
}

func TestRunMarksUnfinishedItemsIncomplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &stubProcessor{}
	orch := orchestrator.New(proc, orchestrator.Config{Concurrency: 2})

	summary, err := orch.Run(ctx, makePairs(3))
	require.NoError(t, err)

	require.Len(t, summary.Entries, 3)
	for _, e := range summary.Entries {
		assert.Equal(t, plan.StateIncomplete, e.State)
		assert.NotEmpty(t, e.Reason)
	}
}

func TestRunForwardsEntriesToRecorder(t *testing.T) {
	rec := &memRecorder{}
	orch := orchestrator.New(&stubProcessor{}, orchestrator.Config{Concurrency: 2, Recorder: rec})

	summary, err := orch.Run(context.Background(), makePairs(3))
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.records, 3)
	for _, r := range rec.records {
		assert.Equal(t, summary.RunID, r.RunID)
		assert.Equal(t, string(plan.StatePromoted), r.State)
		assert.True(t, r.Outcome.Succeeded)
	}
}

func TestRunSurvivesRecorderFailure(t *testing.T) {
	rec := &memRecorder{fail: true}
	orch := orchestrator.New(&stubProcessor{}, orchestrator.Config{Recorder: rec})

	summary, err := orch.Run(context.Background(), makePairs(2))
	require.NoError(t, err)
	assert.Len(t, summary.Entries, 2)
}

func TestProgressSnapshot(t *testing.T) {
	proc := &stubProcessor{}
	orch := orchestrator.New(proc, orchestrator.Config{Concurrency: 1})

	_, _, entries := orch.Progress()
	assert.Empty(t, entries)

	summary, err := orch.Run(context.Background(), makePairs(2))
	require.NoError(t, err)

	runID, total, entries := orch.Progress()
	assert.Equal(t, summary.RunID, runID)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)
}
