package anaplan

import "time"

type Workspace struct {
	ID   string
	Name string
}

type Model struct {
	ID          string
	Name        string
	WorkspaceID string
}

// Usage is a point-in-time capacity reading for a workspace. A zero value
// means the reading is unknown, not that the workspace is empty.
type Usage struct {
	UsedBytes      int64
	AllocatedBytes int64
}

type Revision struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Action struct {
	ID   string
	Name string
}

// Task terminal states for asynchronous model synchronization.
const (
	TaskComplete  = "COMPLETE"
	TaskFailed    = "FAILED"
	TaskCancelled = "CANCELLED"
)

type Task struct {
	ID    string
	State string
}

// Terminal reports whether the task has reached a final state.
func (t Task) Terminal() bool {
	switch t.State {
	case TaskComplete, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// CallResult carries the remote response for calls whose negative outcomes
// are results rather than errors (promotion and action invocation).
type CallResult struct {
	StatusCode int
	Body       string
}

func (r CallResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
