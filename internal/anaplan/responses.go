package anaplan

import "time"

// The service's response shapes vary across tenants and API generations.
// Each response type below lists the accepted field aliases once, here at
// the boundary, so the rest of the code sees a single schema.

type workspaceResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type modelResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Some responses carry the workspace inline, either flat or nested.
	WorkspaceID string `json:"workspaceId"`
	Workspace   struct {
		ID string `json:"id"`
	} `json:"workspace"`
}

func (m modelResponse) model(workspaceID string) Model {
	wsID := workspaceID
	if wsID == "" {
		wsID = m.WorkspaceID
	}
	if wsID == "" {
		wsID = m.Workspace.ID
	}
	return Model{ID: m.ID, Name: m.Name, WorkspaceID: wsID}
}

type usageResponse struct {
	UsedBytes      *int64 `json:"usedBytes"`
	Used           *int64 `json:"used"`
	UsedSpace      *int64 `json:"usedSpace"`
	ConsumedBytes  *int64 `json:"consumedBytes"`
	AllocatedBytes *int64 `json:"allocatedBytes"`
	Allocated      *int64 `json:"allocated"`
	AllocatedSpace *int64 `json:"allocatedSpace"`
}

func (u usageResponse) usage() Usage {
	return Usage{
		UsedBytes:      firstInt64(u.UsedBytes, u.Used, u.UsedSpace, u.ConsumedBytes),
		AllocatedBytes: firstInt64(u.AllocatedBytes, u.Allocated, u.AllocatedSpace),
	}
}

type revisionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdOn"`
	Created   time.Time `json:"createdAt"`
}

func (r revisionResponse) revision() Revision {
	created := r.CreatedAt
	if created.IsZero() {
		created = r.Created
	}
	return Revision{ID: r.ID, Name: r.Name, CreatedAt: created}
}

type actionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type taskResponse struct {
	Task *struct {
		TaskID    string `json:"taskId"`
		ID        string `json:"id"`
		TaskState string `json:"taskState"`
		Status    string `json:"status"`
	} `json:"task"`
	TaskID    string `json:"taskId"`
	ID        string `json:"id"`
	TaskState string `json:"taskState"`
	Status    string `json:"status"`
}

func (t taskResponse) task() Task {
	if t.Task != nil {
		return Task{
			ID:    firstString(t.Task.TaskID, t.Task.ID),
			State: firstString(t.Task.TaskState, t.Task.Status),
		}
	}
	return Task{
		ID:    firstString(t.TaskID, t.ID),
		State: firstString(t.TaskState, t.Status),
	}
}

func firstInt64(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
