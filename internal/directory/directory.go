// Package directory resolves opaque model identifiers to their owning
// workspace and tracks capacity usage for the lifetime of one run.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/planops/almsync/internal/anaplan"
)

// ErrNotFound is returned when no workspace in the tenant contains the model.
var ErrNotFound = errors.New("environment not found")

// API is the slice of the service client the directory needs.
type API interface {
	ListWorkspaces(ctx context.Context) ([]anaplan.Workspace, error)
	ListModels(ctx context.Context, workspaceID string) ([]anaplan.Model, error)
	GetModel(ctx context.Context, workspaceID, modelID string) (anaplan.Model, error)
	GetWorkspaceUsage(ctx context.Context, workspaceID string) (anaplan.Usage, error)
}

// Ref identifies a model to resolve. WorkspaceID is optional; when empty the
// directory scans the tenant's workspaces for the model.
type Ref struct {
	ModelID     string
	WorkspaceID string
}

// Environment is an immutable snapshot of a resolved model. Usage is the
// reading taken at resolve time; call Directory.Usage for a fresh one.
type Environment struct {
	ModelID       string
	ModelName     string
	WorkspaceID   string
	WorkspaceName string
	Usage         anaplan.Usage
}

// Directory caches the tenant's workspace and model listings for the
// duration of a run. The cache fills incrementally during scans and is never
// invalidated; usage readings always bypass it.
type Directory struct {
	api    API
	logger *log.Logger

	mu         sync.Mutex
	workspaces []anaplan.Workspace
	wsLoaded   bool
	models     map[string][]anaplan.Model
}

func New(api API, logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Directory{
		api:    api,
		logger: logger,
		models: make(map[string][]anaplan.Model),
	}
}

// Resolve locates the environment for ref, directly when the workspace is
// known and by scanning otherwise. The initial usage reading is best-effort:
// a failed fetch leaves the zero (unknown) sentinel.
func (d *Directory) Resolve(ctx context.Context, ref Ref) (Environment, error) {
	if ref.ModelID == "" {
		return Environment{}, fmt.Errorf("model id required")
	}
	var model anaplan.Model
	var err error
	if ref.WorkspaceID != "" {
		model, err = d.api.GetModel(ctx, ref.WorkspaceID, ref.ModelID)
		if err != nil {
			var apiErr *anaplan.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
				return Environment{}, fmt.Errorf("model %s in workspace %s: %w", ref.ModelID, ref.WorkspaceID, ErrNotFound)
			}
			return Environment{}, err
		}
		model.WorkspaceID = ref.WorkspaceID
	} else {
		model, err = d.scan(ctx, ref.ModelID)
		if err != nil {
			return Environment{}, err
		}
	}

	env := Environment{
		ModelID:       model.ID,
		ModelName:     model.Name,
		WorkspaceID:   model.WorkspaceID,
		WorkspaceName: d.workspaceName(ctx, model.WorkspaceID),
	}
	usage, err := d.Usage(ctx, env)
	if err != nil {
		d.logger.Printf("usage unavailable for workspace %s: %v", env.WorkspaceID, err)
	}
	env.Usage = usage
	return env, nil
}

// Usage fetches a fresh capacity reading. Failure is non-fatal: the zero
// Usage sentinel is returned alongside the error, and a zero allocation is
// classified Warn downstream rather than Safe.
func (d *Directory) Usage(ctx context.Context, env Environment) (anaplan.Usage, error) {
	usage, err := d.api.GetWorkspaceUsage(ctx, env.WorkspaceID)
	if err != nil {
		return anaplan.Usage{}, err
	}
	return usage, nil
}

// scan walks the tenant's workspaces until one contains the model,
// short-circuiting on the first match. Listings fetched along the way stay
// cached so later scans resume without repeating remote calls.
func (d *Directory) scan(ctx context.Context, modelID string) (anaplan.Model, error) {
	workspaces, err := d.loadWorkspaces(ctx)
	if err != nil {
		return anaplan.Model{}, err
	}
	for _, ws := range workspaces {
		models, err := d.loadModels(ctx, ws.ID)
		if err != nil {
			d.logger.Printf("skipping workspace %s during scan: %v", ws.ID, err)
			continue
		}
		for _, m := range models {
			if m.ID == modelID {
				m.WorkspaceID = ws.ID
				return m, nil
			}
		}
	}
	return anaplan.Model{}, fmt.Errorf("model %s: %w", modelID, ErrNotFound)
}

func (d *Directory) loadWorkspaces(ctx context.Context) ([]anaplan.Workspace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wsLoaded {
		return d.workspaces, nil
	}
	workspaces, err := d.api.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	d.workspaces = workspaces
	d.wsLoaded = true
	return workspaces, nil
}

func (d *Directory) loadModels(ctx context.Context, workspaceID string) ([]anaplan.Model, error) {
	d.mu.Lock()
	if models, ok := d.models[workspaceID]; ok {
		d.mu.Unlock()
		return models, nil
	}
	d.mu.Unlock()

	models, err := d.api.ListModels(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.models[workspaceID] = models
	d.mu.Unlock()
	return models, nil
}

func (d *Directory) workspaceName(ctx context.Context, workspaceID string) string {
	workspaces, err := d.loadWorkspaces(ctx)
	if err != nil {
		d.logger.Printf("workspace name lookup failed: %v", err)
		return ""
	}
	for _, ws := range workspaces {
		if ws.ID == workspaceID {
			return ws.Name
		}
	}
	return ""
}
