package executor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planops/almsync/internal/anaplan"
	"github.com/planops/almsync/internal/executor"
)

type fakeExecAPI struct {
	promoteStatus int
	promoteErr    error
	promoteCalls  int

	actions     []anaplan.Action
	actionsErr  error
	taskStatus  int
	invokedID   string
	actionCalls int

	syncTask   anaplan.Task
	syncErr    error
	taskStates []string
	pollCalls  int
}

func (f *fakeExecAPI) PromoteRevision(ctx context.Context, ws, model, source, revision string) (anaplan.CallResult, error) {
	f.promoteCalls++
	if f.promoteErr != nil {
		return anaplan.CallResult{}, f.promoteErr
	}
	return anaplan.CallResult{StatusCode: f.promoteStatus}, nil
}

func (f *fakeExecAPI) ListActions(ctx context.Context, ws, model string) ([]anaplan.Action, error) {
	if f.actionsErr != nil {
		return nil, f.actionsErr
	}
	return f.actions, nil
}

func (f *fakeExecAPI) StartActionTask(ctx context.Context, ws, model, actionID, source, revision string) (anaplan.CallResult, error) {
	f.actionCalls++
	f.invokedID = actionID
	status := f.taskStatus
	if status == 0 {
		status = 200
	}
	return anaplan.CallResult{StatusCode: status}, nil
}

func (f *fakeExecAPI) StartModelSync(ctx context.Context, ws, model, revisionID string) (anaplan.Task, error) {
	if f.syncErr != nil {
		return anaplan.Task{}, f.syncErr
	}
	return f.syncTask, nil
}

func (f *fakeExecAPI) GetTask(ctx context.Context, ws, model, taskID string) (anaplan.Task, error) {
	state := f.taskStates[f.pollCalls]
	if f.pollCalls < len(f.taskStates)-1 {
		f.pollCalls++
	}
	return anaplan.Task{ID: taskID, State: state}, nil
}

var testReq = executor.Request{
	SourceModelID:     "M1",
	SourceRevisionID:  "rev-1",
	RevisionName:      "RT1",
	TargetWorkspaceID: "W2",
	TargetModelID:     "M2",
}

func TestPromotePrimarySucceeds(t *testing.T) {
	api := &fakeExecAPI{promoteStatus: 202}
	exec := executor.New(api, executor.Config{EnableFallback: true})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodPrimary, outcome.Method)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 1, api.promoteCalls)
	assert.Equal(t, 0, api.actionCalls, "fallback must not run after primary success")
}

func TestPromoteFallsBackOnServerError(t *testing.T) {
	api := &fakeExecAPI{
		promoteStatus: 503,
		actions: []anaplan.Action{
			{ID: "a1", Name: "Export A"},
			{ID: "a2", Name: "ALM Sync Task"},
			{ID: "a3", Name: "Import B"},
		},
	}
	exec := executor.New(api, executor.Config{EnableFallback: true})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodFallback, outcome.Method)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, "a2", api.invokedID, "substring match on alm wins")
	assert.Contains(t, outcome.Detail, "ALM Sync Task")
}

func TestPromoteFallbackPreference(t *testing.T) {
	cases := []struct {
		name    string
		actions []anaplan.Action
		wantID  string
	}{
		{"promote over revision", []anaplan.Action{{ID: "a1", Name: "Revision Cleanup"}, {ID: "a2", Name: "Promote To Prod"}}, "a2"},
		{"revision when nothing better", []anaplan.Action{{ID: "a1", Name: "Export"}, {ID: "a2", Name: "Apply Revision"}}, "a2"},
		{"first when no match", []anaplan.Action{{ID: "a1", Name: "Export"}, {ID: "a2", Name: "Import"}}, "a1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeExecAPI{promoteStatus: 404, actions: tc.actions}
			exec := executor.New(api, executor.Config{EnableFallback: true})
			_, err := exec.Promote(context.Background(), testReq)
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, api.invokedID)
		})
	}
}

func TestPromoteNoPromotionPath(t *testing.T) {
	api := &fakeExecAPI{promoteStatus: 404}
	exec := executor.New(api, executor.Config{EnableFallback: true})

	_, err := exec.Promote(context.Background(), testReq)
	assert.ErrorIs(t, err, executor.ErrNoPromotionPath)
}

func TestPromoteFallbackDisabled(t *testing.T) {
	api := &fakeExecAPI{promoteStatus: 503}
	exec := executor.New(api, executor.Config{EnableFallback: false})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodPrimary, outcome.Method)
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, 0, api.actionCalls)
}

func TestPromoteTransportErrorTriggersFallback(t *testing.T) {
	api := &fakeExecAPI{
		promoteErr: fmt.Errorf("connection refused"),
		actions:    []anaplan.Action{{ID: "a1", Name: "ALM Promote"}},
	}
	exec := executor.New(api, executor.Config{EnableFallback: true})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodFallback, outcome.Method)
	assert.True(t, outcome.Succeeded)
}

func TestPromoteTransportErrorWithoutFallback(t *testing.T) {
	transportErr := errors.New("connection refused")
	api := &fakeExecAPI{promoteErr: transportErr}
	exec := executor.New(api, executor.Config{EnableFallback: false})

	_, err := exec.Promote(context.Background(), testReq)
	assert.ErrorIs(t, err, transportErr)
}

func TestPromoteSyncTaskPollsToComplete(t *testing.T) {
	api := &fakeExecAPI{
		syncTask:   anaplan.Task{ID: "T1", State: "NOT_STARTED"},
		taskStates: []string{"NOT_STARTED", "IN_PROGRESS", anaplan.TaskComplete},
	}
	exec := executor.New(api, executor.Config{UseSyncTask: true, PollInterval: time.Millisecond})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodPrimary, outcome.Method)
	assert.True(t, outcome.Succeeded)
	assert.Contains(t, outcome.Detail, anaplan.TaskComplete)
}

func TestPromoteSyncTaskSurfacesFailure(t *testing.T) {
	api := &fakeExecAPI{
		syncTask:   anaplan.Task{ID: "T1", State: "NOT_STARTED"},
		taskStates: []string{"IN_PROGRESS", anaplan.TaskFailed},
	}
	exec := executor.New(api, executor.Config{UseSyncTask: true, PollInterval: time.Millisecond})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.False(t, outcome.Succeeded)
	assert.Contains(t, outcome.Detail, anaplan.TaskFailed)
}

func TestPromoteSyncTaskRejectedFallsBack(t *testing.T) {
	api := &fakeExecAPI{
		syncErr: &anaplan.APIError{StatusCode: 405, Body: "not allowed"},
		actions: []anaplan.Action{{ID: "a1", Name: "ALM Sync"}},
	}
	exec := executor.New(api, executor.Config{UseSyncTask: true, EnableFallback: true, PollInterval: time.Millisecond})

	outcome, err := exec.Promote(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, executor.MethodFallback, outcome.Method)
	assert.True(t, outcome.Succeeded)
}
