package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTool(name string, tier Tier, effects ...Effect) ToolDef {
	return ToolDef{
		Name:    name,
		Tier:    tier,
		Effects: effects,
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			return NewResult("ok"), nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(sampleTool("foo", TierSafe)))

	tool, ok := r.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "foo", tool.Name)
}

func TestRegistry_DuplicateNameErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(sampleTool("foo", TierSafe)))
	err := r.RegisterTool(sampleTool("foo", TierSafe))
	assert.Error(t, err)
}

func TestRegistry_ListIsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(sampleTool("zeta", TierSafe)))
	require.NoError(t, r.RegisterTool(sampleTool("alpha", TierSafe)))
	assert.Equal(t, []string{"alpha", "zeta"}, r.List())
}
