// Package catalog lists, creates, and resolves revision tags on a source
// model.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/planops/almsync/internal/anaplan"
	"github.com/planops/almsync/internal/directory"
)

// ErrEmpty is returned when the model has no revisions to pick from.
var ErrEmpty = errors.New("no revisions available")

// API is the slice of the service client the catalog needs.
type API interface {
	ListRevisions(ctx context.Context, workspaceID, modelID string) ([]anaplan.Revision, error)
	CreateRevision(ctx context.Context, workspaceID, modelID, name string) (anaplan.Revision, error)
}

type Config struct {
	// Attempts bounds how many times a failed list is retried before the
	// error surfaces. Zero means the default of 2.
	Attempts int
	Logger   *log.Logger
}

type Catalog struct {
	api      API
	attempts int
	logger   *log.Logger
}

func New(api API, cfg Config) *Catalog {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Catalog{api: api, attempts: attempts, logger: logger}
}

// List returns the model's revisions in the service's listing order,
// retrying up to the configured bound on failure.
func (c *Catalog) List(ctx context.Context, env directory.Environment) ([]anaplan.Revision, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		revisions, err := c.api.ListRevisions(ctx, env.WorkspaceID, env.ModelID)
		if err == nil {
			return revisions, nil
		}
		lastErr = err
		if i < c.attempts-1 {
			c.logger.Printf("list revisions for %s failed, retrying: %v", env.ModelID, err)
			time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("list revisions for %s after %d attempts: %w", env.ModelID, c.attempts, lastErr)
}

// Latest picks the most recently created revision when timestamps are
// present, otherwise the last element of the listing order. The listing
// order is assumed chronological; that assumption is policy, not a service
// guarantee.
func (c *Catalog) Latest(ctx context.Context, env directory.Environment) (anaplan.Revision, error) {
	revisions, err := c.List(ctx, env)
	if err != nil {
		return anaplan.Revision{}, err
	}
	if len(revisions) == 0 {
		return anaplan.Revision{}, ErrEmpty
	}
	latest := revisions[len(revisions)-1]
	for _, r := range revisions {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

// Create makes a new revision tag on the model. A duplicate name surfaces as
// anaplan.ErrConflict; an ambiguous response is never turned into an
// invented revision.
func (c *Catalog) Create(ctx context.Context, env directory.Environment, name string) (anaplan.Revision, error) {
	created, err := c.api.CreateRevision(ctx, env.WorkspaceID, env.ModelID, name)
	if err != nil {
		return anaplan.Revision{}, err
	}
	return created, nil
}

// Resolve finds an existing revision by name, matching case-insensitively
// with surrounding whitespace ignored.
func (c *Catalog) Resolve(ctx context.Context, env directory.Environment, name string) (anaplan.Revision, error) {
	revisions, err := c.List(ctx, env)
	if err != nil {
		return anaplan.Revision{}, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, r := range revisions {
		if strings.ToLower(strings.TrimSpace(r.Name)) == want {
			return r, nil
		}
	}
	return anaplan.Revision{}, fmt.Errorf("revision %q not found on %s", name, env.ModelID)
}
