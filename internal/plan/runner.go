package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/planops/almsync/internal/anaplan"
	"github.com/planops/almsync/internal/capacity"
	"github.com/planops/almsync/internal/catalog"
	"github.com/planops/almsync/internal/directory"
	"github.com/planops/almsync/internal/executor"
)

// Decision is the action-selection collaborator's answer for a discovered
// item. RevisionName is read for CreateNew and SelectExisting.
type Decision struct {
	Action       Action
	RevisionName string
}

// Selector supplies the user's revision choice for an item in the
// discovered state. It may be interactive or scripted.
type Selector interface {
	SelectAction(ctx context.Context, item *Item) (Decision, error)
}

// Confirmer supplies the approve/reject decision for a capacity-checked
// item. A Block assessment does not auto-reject; the authority is here.
type Confirmer interface {
	Confirm(ctx context.Context, item *Item, assessment capacity.Assessment) (bool, error)
}

// DeltaEstimator supplies the estimated structural size of the promotion
// payload. The runner cannot know the true size before the remote operation
// runs; zero means unknown.
type DeltaEstimator func(source directory.Environment) int64

type Config struct {
	Selector  Selector
	Confirmer Confirmer
	Delta     DeltaEstimator
	Logger    *log.Logger
}

// Runner drives a single item through discovery, revision selection,
// capacity check, confirmation, and execution. Errors never escape Process:
// every failure becomes a terminal state with a reason, so one broken item
// cannot abort its siblings.
type Runner struct {
	directory *directory.Directory
	catalog   *catalog.Catalog
	executor  *executor.Executor
	selector  Selector
	confirmer Confirmer
	delta     DeltaEstimator
	logger    *log.Logger
}

func NewRunner(dir *directory.Directory, cat *catalog.Catalog, exec *executor.Executor, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	delta := cfg.Delta
	if delta == nil {
		delta = func(directory.Environment) int64 { return 0 }
	}
	return &Runner{
		directory: dir,
		catalog:   cat,
		executor:  exec,
		selector:  cfg.Selector,
		confirmer: cfg.Confirmer,
		delta:     delta,
		logger:    logger,
	}
}

// Process drives item to a terminal state. Cancellation is honored only at
// stage boundaries: once promotion starts, the in-flight call runs to its
// own completion.
func (r *Runner) Process(ctx context.Context, item *Item) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("%s: panic recovered: %v", item, rec)
			item.finish(StatePromoteFailed, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	if ctx.Err() != nil {
		// Left non-terminal on purpose: the orchestrator reports items the
		// pool never started as incomplete.
		return
	}
	if !r.discover(ctx, item) {
		return
	}
	if !r.selectRevision(ctx, item) {
		return
	}
	if !r.checkCapacity(ctx, item) {
		return
	}
	if !r.confirm(ctx, item) {
		return
	}
	if err := ctx.Err(); err != nil {
		item.finish(StateCancelled, "run cancelled before promotion started")
		return
	}
	r.execute(ctx, item)
}

func (r *Runner) discover(ctx context.Context, item *Item) bool {
	source, err := r.directory.Resolve(ctx, item.SourceRef)
	if err != nil {
		r.logger.Printf("%s: source resolution failed: %v", item, err)
		item.finish(StateSkipped, fmt.Sprintf("%s: source %s", ReasonEnvironmentNotFound, item.SourceRef.ModelID))
		return false
	}
	target, err := r.directory.Resolve(ctx, item.TargetRef)
	if err != nil {
		r.logger.Printf("%s: target resolution failed: %v", item, err)
		item.finish(StateSkipped, fmt.Sprintf("%s: target %s", ReasonEnvironmentNotFound, item.TargetRef.ModelID))
		return false
	}
	item.Source = source
	item.Target = target
	item.State = StateDiscovered
	r.logger.Printf("%s: resolved %q (%s) -> %q (%s)", item, source.ModelName, source.WorkspaceID, target.ModelName, target.WorkspaceID)
	return true
}

func (r *Runner) selectRevision(ctx context.Context, item *Item) bool {
	decision, err := r.selector.SelectAction(ctx, item)
	if err != nil {
		item.finish(StateSkipped, fmt.Sprintf("action selection failed: %v", err))
		return false
	}
	item.Action = decision.Action
	item.State = StateRevisionPending

	var revision anaplan.Revision
	switch decision.Action {
	case ActionSkip:
		item.finish(StateSkipped, "skipped by request")
		return false
	case ActionUseLatest:
		revision, err = r.catalog.Latest(ctx, item.Source)
	case ActionCreateNew:
		name := decision.RevisionName
		if name == "" {
			name = defaultTagName()
		}
		revision, err = r.catalog.Create(ctx, item.Source, name)
		if errors.Is(err, anaplan.ErrConflict) {
			// The tag already exists; select it instead of inventing one.
			r.logger.Printf("%s: revision %q exists, selecting it", item, name)
			revision, err = r.catalog.Resolve(ctx, item.Source, name)
		}
	case ActionSelectExisting:
		revision, err = r.catalog.Resolve(ctx, item.Source, decision.RevisionName)
	default:
		err = fmt.Errorf("unknown action %q", decision.Action)
	}
	if err != nil {
		r.logger.Printf("%s: revision selection failed: %v", item, err)
		item.finish(StateSkipped, fmt.Sprintf("%s: %v", ReasonRevisionError, err))
		return false
	}
	item.Revision = &revision
	item.State = StateRevisionSelected
	r.logger.Printf("%s: selected revision %q", item, revision.Name)
	return true
}

func (r *Runner) checkCapacity(ctx context.Context, item *Item) bool {
	usage, err := r.directory.Usage(ctx, item.Target)
	if err != nil {
		// Non-fatal: the zero reading classifies Warn downstream.
		r.logger.Printf("%s: fresh usage unavailable: %v", item, err)
	}
	assessment := capacity.Assess(usage.UsedBytes, usage.AllocatedBytes, r.delta(item.Source))
	item.Assessment = &assessment
	item.State = StateCapacityChecked
	return true
}

func (r *Runner) confirm(ctx context.Context, item *Item) bool {
	approved, err := r.confirmer.Confirm(ctx, item, *item.Assessment)
	if err != nil {
		item.finish(StateCancelled, fmt.Sprintf("confirmation failed: %v", err))
		return false
	}
	if !approved {
		item.State = StateRejected
		item.finish(StateCancelled, fmt.Sprintf("rejected at %.1f%% projected usage", item.Assessment.ProjectedPct*100))
		return false
	}
	item.Confirmed = true
	item.State = StateApproved
	return true
}

func (r *Runner) execute(ctx context.Context, item *Item) {
	item.State = StatePromoting
	req := executor.Request{
		SourceModelID:     item.Source.ModelID,
		SourceRevisionID:  item.Revision.ID,
		RevisionName:      item.Revision.Name,
		TargetWorkspaceID: item.Target.WorkspaceID,
		TargetModelID:     item.Target.ModelID,
	}
	// The promotion itself must not be interrupted by run cancellation.
	outcome, err := r.executor.Promote(context.WithoutCancel(ctx), req)
	if err != nil {
		r.logger.Printf("%s: promotion failed: %v", item, err)
		item.finish(StatePromoteFailed, err.Error())
		return
	}
	item.Outcome = &outcome
	if outcome.Succeeded {
		item.finish(StatePromoted, outcome.Detail)
	} else {
		item.finish(StatePromoteFailed, outcome.Detail)
	}
}

func defaultTagName() string {
	return "AutoTag_" + time.Now().Format("20060102_150405")
}
