package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/friendbot/internal/store"
	"github.com/nextlevelbuilder/friendbot/internal/store/memstore"
)

func TestRememberFact_RequiresEvidence(t *testing.T) {
	mem := memstore.NewMemoryStore(func() int64 { return 1000 })
	tool := NewRememberFactTool(RememberFactConfig{Memory: mem, PersonID: "p1"})
	res, err := tool.Execute(context.Background(), map[string]any{"subject": "job", "content": "engineer"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRememberFactThenRecall(t *testing.T) {
	mem := memstore.NewMemoryStore(func() int64 { return 1000 })
	person, err := mem.GetOrCreatePerson("cli", "user-1", "Alex")
	require.NoError(t, err)

	rememberTool := NewRememberFactTool(RememberFactConfig{Memory: mem, PersonID: person.ID})
	res, err := rememberTool.Execute(context.Background(), map[string]any{
		"subject":       "job",
		"content":       "works as a mechanic",
		"evidenceQuote": "I work as a mechanic",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	recallTool := NewRecallTool(RecallConfig{
		Memory:   mem,
		PersonID: person.ID,
		Weights:  store.RetrievalWeights{RRFK: 60, FTSWeight: 1},
	})
	res, err = recallTool.Execute(context.Background(), map[string]any{"query": "mechanic"})
	require.NoError(t, err)
	assert.Contains(t, res.ForLLM, "mechanic")
}

func TestRecall_RequiresQuery(t *testing.T) {
	mem := memstore.NewMemoryStore(func() int64 { return 1000 })
	tool := NewRecallTool(RecallConfig{Memory: mem})
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
