package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecTool_DeniesDangerousCommand(t *testing.T) {
	tool := NewExecTool(ExecConfig{})
	res, err := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestExecTool_RunsSimpleCommand(t *testing.T) {
	tool := NewExecTool(ExecConfig{})
	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	assert.Contains(t, res.ForLLM, "hello")
	assert.True(t, res.Silent)
}

func TestExecTool_RequiresCommand(t *testing.T) {
	tool := NewExecTool(ExecConfig{})
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestExecTool_IsDangerousTierWithFilesystemAndSubprocessEffects(t *testing.T) {
	tool := NewExecTool(ExecConfig{})
	assert.Equal(t, TierDangerous, tool.Tier)
	assert.True(t, tool.hasEffect(EffectFilesystem))
	assert.True(t, tool.hasEffect(EffectSubprocess))
}
