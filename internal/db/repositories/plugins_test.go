package repositories

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/pkg/models"
)

func TestPluginRepo_Update(t *testing.T) {
	repos := newTestRepos(t)

	p := &models.Plugin{
		ID:        uuid.NewString(),
		Name:      "slack",
		Image:     "plugins/slack:latest",
		Version:   "1.0.0",
		Spec:      models.PluginSpec{Exposes: []string{"send_message"}},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repos.Plugins.Create(ctx, p))

	digest := "sha256:deadbeef"
	updated, err := repos.Plugins.Update(ctx, p.ID, &digest, "1.1.0", models.PluginSpec{Exposes: []string{"send_message", "send_file"}})
	require.NoError(t, err)
	require.Equal(t, "1.1.0", updated.Version)
	require.Equal(t, &digest, updated.Digest)
	require.Equal(t, []string{"send_message", "send_file"}, updated.Spec.Exposes)
	require.True(t, updated.UpdatedAt.After(p.CreatedAt) || updated.UpdatedAt.Equal(p.CreatedAt))
}

func TestPluginRepo_UpdateUnknownIDReturnsError(t *testing.T) {
	repos := newTestRepos(t)
	_, err := repos.Plugins.Update(ctx, "missing", nil, "1.0.0", models.PluginSpec{})
	require.Error(t, err)
}
