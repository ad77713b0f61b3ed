package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasSaneEngineLimits(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.Engine.Generation.MaxRegens)
	assert.Equal(t, "anthropic", cfg.Model.Provider.Kind)
	assert.True(t, cfg.Channels.CLI.Enabled)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model.Models.Default, cfg.Model.Models.Default)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"model": {"models": {"default": "custom-model"}},
		"proactive": {"enabled": true}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.Model.Models.Default)
	assert.True(t, cfg.Proactive.Enabled)
	assert.Equal(t, 1, cfg.Engine.Generation.MaxRegens) // untouched keys keep their default
}

func TestFlexibleStringSlice_AcceptsStringsAndNumbers(t *testing.T) {
	var f FlexibleStringSlice
	require.NoError(t, json.Unmarshal([]byte(`["alice", 123456]`), &f))
	assert.Equal(t, FlexibleStringSlice{"alice", "123456"}, f)
}

func TestReplaceFrom_SwapsDataFieldsAtomically(t *testing.T) {
	live := Default()
	other := Default()
	other.Proactive.Enabled = true
	other.Model.Models.Default = "swapped"

	live.ReplaceFrom(other)
	assert.True(t, live.Proactive.Enabled)
	assert.Equal(t, "swapped", live.Model.Models.Default)
}

func TestSave_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := Default()
	cfg.Proactive.Enabled = true
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Config
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Proactive.Enabled)
}

func TestExpandHome_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, home+"/x", ExpandHome("~/x"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}
