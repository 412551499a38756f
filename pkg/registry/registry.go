// Package registry resolves plugin ids and names to plugin specs and keeps a
// per-process memoized cache so the step executor does not hit the database
// on every dispatch.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// Registry is the plugin registry. It is safe for concurrent use.
type Registry struct {
	repo *repositories.PluginRepo

	mu     sync.RWMutex
	byID   map[string]*models.Plugin
	byName map[string]*models.Plugin
}

func New(repos *repositories.Repositories) *Registry {
	return &Registry{
		repo:   repos.Plugins,
		byID:   make(map[string]*models.Plugin),
		byName: make(map[string]*models.Plugin),
	}
}

// Register persists a new plugin and adds it to the cache. id is the
// caller-supplied plugin id (admission validates its shape); if empty, one
// is generated.
func (r *Registry) Register(ctx context.Context, id, name, image, version string, digest *string, spec models.PluginSpec) (*models.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("plugin %q already registered", name)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.byID[id]; exists {
		return nil, fmt.Errorf("plugin id %q already registered", id)
	}

	p := &models.Plugin{
		ID:      id,
		Name:    name,
		Image:   image,
		Digest:  digest,
		Version: version,
		Spec:    spec,
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	if err := r.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("register plugin %q: %w", name, err)
	}

	r.byID[p.ID] = p
	r.byName[p.Name] = p
	return p, nil
}

// Get resolves a plugin by id, checking the cache before the store.
func (r *Registry) Get(ctx context.Context, id string) (*models.Plugin, error) {
	r.mu.RLock()
	if p, ok := r.byID[id]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	p, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("plugin %q not found: %w", id, err)
	}

	r.cache(p)
	return p, nil
}

// GetByName resolves a plugin by name, checking the cache before the store.
func (r *Registry) GetByName(ctx context.Context, name string) (*models.Plugin, error) {
	r.mu.RLock()
	if p, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	p, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("plugin %q not found: %w", name, err)
	}

	r.cache(p)
	return p, nil
}

// List returns every registered plugin, bypassing the cache so callers
// always see newly registered plugins from other processes.
func (r *Registry) List(ctx context.Context) ([]*models.Plugin, error) {
	return r.repo.List(ctx)
}

// Update patches an existing plugin's digest, version, and spec - the path a
// new image build takes to roll forward without a new plugin id. It drops
// the old cache entries and caches the updated plugin as read back from the
// store, so later Get/GetByName calls never serve the pre-update version.
func (r *Registry) Update(ctx context.Context, id string, digest *string, version string, spec models.PluginSpec) (*models.Plugin, error) {
	p, err := r.repo.Update(ctx, id, digest, version, spec)
	if err != nil {
		return nil, fmt.Errorf("update plugin %q: %w", id, err)
	}

	r.mu.Lock()
	delete(r.byID, id)
	if old, ok := r.byName[p.Name]; ok && old.ID == id {
		delete(r.byName, p.Name)
	}
	r.mu.Unlock()

	r.cache(p)
	return p, nil
}

// Invalidate drops a plugin from the cache, forcing the next lookup to hit
// the store. Call it after updating or deleting a plugin out of band.
func (r *Registry) Invalidate(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	delete(r.byName, name)
}

func (r *Registry) cache(p *models.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	r.byName[p.Name] = p
}
