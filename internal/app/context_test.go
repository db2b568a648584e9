package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeline/internal/config"
	"tradeline/internal/engine"
)

func TestOpenWiresWorkspace(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADELINE_LOG_LEVEL", "error")
	t.Setenv("TRADELINE_STORAGE_PROVIDER", "fs")
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault()), 0o644))

	ac, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer ac.Close()

	require.NotNil(t, ac.Engine.Storage)
	require.NotNil(t, ac.Engine.Metrics)
	require.Equal(t, "tradeline", ac.Config.Marketplace.Name)

	p, err := ac.Engine.CreateProject(context.Background(), engine.ProjectDraft{ClientID: "c1", Title: "Hang shelves", Budget: 5000})
	require.NoError(t, err)
	v, err := ac.Board.View(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, v.Project.ID)
	require.FileExists(t, filepath.Join(dir, ".tradeline", "tradeline.db"))
}

func TestOpenRejectsBadEnv(t *testing.T) {
	t.Setenv("TRADELINE_LOG_LEVEL", "shouting")
	_, err := Open(context.Background(), t.TempDir())
	require.Error(t, err)
}
