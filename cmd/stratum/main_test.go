package main

import (
	"testing"

	"github.com/cuemby/stratum/pkg/engine"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "-", joinIDs(nil))
	assert.Equal(t, "3", joinIDs([]types.ProvenanceID{3}))
	assert.Equal(t, "1,2,5", joinIDs([]types.ProvenanceID{1, 2, 5}))
}

func TestRunSavesProject(t *testing.T) {
	dir := t.TempDir()

	rootCmd.SetArgs([]string{
		"run", "--data-dir", dir, "--log-level", "error",
		"CreateLayer name='base' dims='2,2,2' value='1'",
		"Invert target='layer_1'",
	})
	require.NoError(t, rootCmd.Execute())

	cfg := engine.DefaultConfig()
	cfg.DataDir = dir
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer func() { require.NoError(t, closeEngine(eng)) }()

	assert.Equal(t, 2, eng.Layers().Snapshot().Layers)
	assert.Equal(t, 2, eng.Provenance().Len())
	assert.Equal(t, 2, eng.Undo().NumUndo())
}

func TestRunRequiresInput(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--data-dir", t.TempDir()})
	assert.Error(t, rootCmd.Execute())
}

func TestRunRejectsInvalidLogLevel(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--data-dir", t.TempDir(), "--log-level", "loud", "Undo"})
	assert.Error(t, rootCmd.Execute())
}

func TestSubmitRequiresCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"submit", "--data-dir", t.TempDir()})
	assert.Error(t, rootCmd.Execute())
}

func TestFormatMetadata(t *testing.T) {
	assert.Empty(t, formatMetadata(nil))
	assert.Equal(t, " action=Invert layer_id=layer_2", formatMetadata(map[string]string{
		"layer_id": "layer_2",
		"action":   "Invert",
	}))
}
