// Package executor drives the remote promotion call with a two-tier
// protocol: a direct revision-promote request, then a best-effort fallback
// through the target model's generic actions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/planops/almsync/internal/anaplan"
)

// ErrNoPromotionPath is returned when the fallback finds no actions at all
// on the target model.
var ErrNoPromotionPath = errors.New("no promotion path available on target model")

type Method string

const (
	MethodPrimary  Method = "primary"
	MethodFallback Method = "fallback"
)

// Outcome is immutable once set. A well-formed negative response from the
// service lands here with Succeeded=false; only transport failures and an
// exhausted fallback surface as errors.
type Outcome struct {
	Method    Method `json:"method"`
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail,omitempty"`
}

// API is the slice of the service client the executor needs.
type API interface {
	PromoteRevision(ctx context.Context, targetWorkspaceID, targetModelID, sourceModelID, revisionName string) (anaplan.CallResult, error)
	ListActions(ctx context.Context, workspaceID, modelID string) ([]anaplan.Action, error)
	StartActionTask(ctx context.Context, workspaceID, modelID, actionID, sourceModelID, revisionName string) (anaplan.CallResult, error)
	StartModelSync(ctx context.Context, workspaceID, modelID, sourceRevisionID string) (anaplan.Task, error)
	GetTask(ctx context.Context, workspaceID, modelID, taskID string) (anaplan.Task, error)
}

type Config struct {
	// EnableFallback turns the actions-based fallback on. Its heuristic
	// matching is best-effort and may pick an unintended action, so the
	// chosen action name is always recorded in the outcome detail.
	EnableFallback bool
	// UseSyncTask switches the primary tier from the fire-and-forget
	// promote endpoint to the asynchronous synchronization task, polled to
	// a terminal state.
	UseSyncTask  bool
	PollInterval time.Duration
	Logger       *log.Logger
}

type Executor struct {
	api          API
	fallback     bool
	useSyncTask  bool
	pollInterval time.Duration
	logger       *log.Logger
}

func New(a API, cfg Config) *Executor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Executor{
		api:          a,
		fallback:     cfg.EnableFallback,
		useSyncTask:  cfg.UseSyncTask,
		pollInterval: interval,
		logger:       logger,
	}
}

// Request names the promotion to perform. SourceRevisionID is only needed in
// sync-task mode; RevisionName drives both the primary endpoint and the
// fallback payload.
type Request struct {
	SourceModelID     string
	SourceRevisionID  string
	RevisionName      string
	TargetWorkspaceID string
	TargetModelID     string
}

// Promote attempts the primary tier and, when enabled, the fallback. First
// success wins. The primary is a single invocation; it is never repeated
// after an outcome is recorded.
func (e *Executor) Promote(ctx context.Context, req Request) (Outcome, error) {
	if e.useSyncTask {
		return e.promoteViaSyncTask(ctx, req)
	}

	res, err := e.api.PromoteRevision(ctx, req.TargetWorkspaceID, req.TargetModelID, req.SourceModelID, req.RevisionName)
	if err == nil && res.OK() {
		e.logger.Printf("promotion accepted for %s (status %d)", req.TargetModelID, res.StatusCode)
		return Outcome{Method: MethodPrimary, Succeeded: true, Detail: statusDetail(res)}, nil
	}
	if err != nil {
		e.logger.Printf("primary promote for %s failed: %v", req.TargetModelID, err)
		if !e.fallback {
			return Outcome{}, err
		}
	} else {
		e.logger.Printf("primary promote for %s returned %d", req.TargetModelID, res.StatusCode)
		if !e.fallback {
			return Outcome{Method: MethodPrimary, Succeeded: false, Detail: statusDetail(res)}, nil
		}
	}
	return e.promoteViaActions(ctx, req)
}

// promoteViaActions enumerates the target's actions and invokes the best
// candidate with the same source-model/revision payload.
func (e *Executor) promoteViaActions(ctx context.Context, req Request) (Outcome, error) {
	actions, err := e.api.ListActions(ctx, req.TargetWorkspaceID, req.TargetModelID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fallback: %w", err)
	}
	candidate, ok := pickAction(actions)
	if !ok {
		return Outcome{}, ErrNoPromotionPath
	}
	e.logger.Printf("fallback: invoking action %q (%s) on %s", candidate.Name, candidate.ID, req.TargetModelID)
	res, err := e.api.StartActionTask(ctx, req.TargetWorkspaceID, req.TargetModelID, candidate.ID, req.SourceModelID, req.RevisionName)
	if err != nil {
		return Outcome{}, fmt.Errorf("fallback action %s: %w", candidate.ID, err)
	}
	detail := fmt.Sprintf("action %q: %s", candidate.Name, statusDetail(res))
	return Outcome{Method: MethodFallback, Succeeded: res.OK(), Detail: detail}, nil
}

// promoteViaSyncTask starts an asynchronous synchronization task and polls
// it to a terminal state.
func (e *Executor) promoteViaSyncTask(ctx context.Context, req Request) (Outcome, error) {
	task, err := e.api.StartModelSync(ctx, req.TargetWorkspaceID, req.TargetModelID, req.SourceRevisionID)
	if err != nil {
		var apiErr *anaplan.APIError
		if errors.As(err, &apiErr) {
			if !e.fallback {
				return Outcome{Method: MethodPrimary, Succeeded: false, Detail: apiErr.Error()}, nil
			}
			e.logger.Printf("sync task for %s rejected, trying fallback: %v", req.TargetModelID, apiErr)
			return e.promoteViaActions(ctx, req)
		}
		return Outcome{}, err
	}
	state, err := e.pollTask(ctx, req, task.ID)
	if err != nil {
		return Outcome{}, err
	}
	detail := fmt.Sprintf("task %s finished %s", task.ID, state)
	return Outcome{Method: MethodPrimary, Succeeded: state == anaplan.TaskComplete, Detail: detail}, nil
}

func (e *Executor) pollTask(ctx context.Context, req Request, taskID string) (string, error) {
	for {
		task, err := e.api.GetTask(ctx, req.TargetWorkspaceID, req.TargetModelID, taskID)
		if err != nil {
			return "", fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if task.Terminal() {
			return task.State, nil
		}
		e.logger.Printf("task %s state %s, waiting", taskID, task.State)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

// pickAction prefers an action whose name contains "alm", then "promote",
// then "revision", case-insensitively, and otherwise takes the first
// available action.
func pickAction(actions []anaplan.Action) (anaplan.Action, bool) {
	if len(actions) == 0 {
		return anaplan.Action{}, false
	}
	for _, needle := range []string{"alm", "promote", "revision"} {
		for _, a := range actions {
			if strings.Contains(strings.ToLower(a.Name), needle) {
				return a, true
			}
		}
	}
	return actions[0], true
}

func statusDetail(res anaplan.CallResult) string {
	if res.Body == "" {
		return fmt.Sprintf("status %d", res.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", res.StatusCode, res.Body)
}
