package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	conn, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())

	return New(repositories.New(conn))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Register(ctx, "", "slack", "plugins/slack:latest", "1.0.0", nil, models.PluginSpec{
		Exposes: []string{"send_message"},
	})
	require.NoError(t, err)

	byID, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "slack", byID.Name)

	byName, err := r.GetByName(ctx, "slack")
	require.NoError(t, err)
	require.Equal(t, p.ID, byName.ID)
}

func TestRegistry_RegisterDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "", "slack", "plugins/slack:latest", "1.0.0", nil, models.PluginSpec{})
	require.NoError(t, err)

	_, err = r.Register(ctx, "", "slack", "plugins/slack:v2", "2.0.0", nil, models.PluginSpec{})
	require.Error(t, err)
}

func TestRegistry_GetUnknownReturnsError(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestRegistry_UpdateChangesDigestVersionAndSpec(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Register(ctx, "", "slack", "plugins/slack:latest", "1.0.0", nil, models.PluginSpec{
		Exposes: []string{"send_message"},
	})
	require.NoError(t, err)

	digest := "sha256:abc123"
	updated, err := r.Update(ctx, p.ID, &digest, "1.1.0", models.PluginSpec{
		Exposes: []string{"send_message", "send_file"},
	})
	require.NoError(t, err)
	require.Equal(t, "1.1.0", updated.Version)
	require.Equal(t, &digest, updated.Digest)
	require.Equal(t, []string{"send_message", "send_file"}, updated.Spec.Exposes)

	fetched, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", fetched.Version)
}

func TestRegistry_UpdateUnknownPluginReturnsError(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update(context.Background(), "missing", nil, "1.0.0", models.PluginSpec{})
	require.Error(t, err)
}

func TestRegistry_CacheServesAfterStoreHit(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Register(ctx, "", "slack", "plugins/slack:latest", "1.0.0", nil, models.PluginSpec{})
	require.NoError(t, err)

	r.Invalidate(p.ID, p.Name)

	// First lookup repopulates the cache from the store.
	fetched, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, fetched.ID)

	// Second lookup must be served from cache without error.
	fetched2, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, fetched2.ID)
}
