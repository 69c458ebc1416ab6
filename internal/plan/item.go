package plan

import (
	"fmt"

	"github.com/planops/almsync/internal/anaplan"
	"github.com/planops/almsync/internal/capacity"
	"github.com/planops/almsync/internal/directory"
	"github.com/planops/almsync/internal/executor"
)

type State string

const (
	StateDiscovered       State = "discovered"
	StateRevisionPending  State = "revision_pending"
	StateRevisionSelected State = "revision_selected"
	StateCapacityChecked  State = "capacity_checked"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StatePromoting        State = "promoting"
	StatePromoted         State = "promoted"
	StatePromoteFailed    State = "promote_failed"
	StateCancelled        State = "cancelled"
	StateSkipped          State = "skipped"
	StateIncomplete       State = "incomplete"
)

// Terminal reports whether the state ends an item's lifecycle. Incomplete is
// assigned by the orchestrator to items the pool never finished.
func (s State) Terminal() bool {
	switch s {
	case StatePromoted, StatePromoteFailed, StateCancelled, StateSkipped, StateIncomplete:
		return true
	}
	return false
}

type Action string

const (
	ActionUseLatest      Action = "latest"
	ActionCreateNew      Action = "create"
	ActionSelectExisting Action = "select"
	ActionSkip           Action = "skip"
)

// Skip reasons referenced by the run summary.
const (
	ReasonEnvironmentNotFound = "environment not found"
	ReasonRevisionError       = "revision selection failed"
)

// Item is one source→target promotion workflow. It is created once per
// configured pair, owned exclusively by the worker processing it, and
// reaches at most one terminal state.
type Item struct {
	PairIndex int

	SourceRef directory.Ref
	TargetRef directory.Ref

	Source directory.Environment
	Target directory.Environment

	Action     Action
	Revision   *anaplan.Revision
	Assessment *capacity.Assessment
	Confirmed  bool
	Outcome    *executor.Outcome

	State  State
	Reason string
}

func NewItem(pairIndex int, source, target directory.Ref) *Item {
	return &Item{PairIndex: pairIndex, SourceRef: source, TargetRef: target}
}

// finish records a terminal state exactly once. Later calls are ignored so a
// defect in a late stage can never overwrite the first recorded outcome.
func (it *Item) finish(state State, reason string) {
	if it.State.Terminal() {
		return
	}
	it.State = state
	it.Reason = reason
}

func (it *Item) String() string {
	return fmt.Sprintf("pair %d (%s -> %s)", it.PairIndex+1, it.SourceRef.ModelID, it.TargetRef.ModelID)
}
