package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinition = `
name: summarize-and-tag
description: Summarize a note, then derive tags from the summary.
nodes:
  - name: summarize
    op: llm
    config:
      prompt: "Summarize: {{note.body}}"
  - name: tag
    op: llm
    enabled: false
    config:
      prompt: "Tags for: {{summary}}"
edges:
  - from: summarize
    to: tag
    output_key: output
    input_key: summary
`

func TestLoadDefinition(t *testing.T) {
	p, err := LoadDefinition(strings.NewReader(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, "summarize-and-tag", p.Name)
	assert.True(t, p.Enabled)
	require.Len(t, p.Nodes, 2)
	require.Len(t, p.Edges, 1)

	assert.Equal(t, "llm", p.Nodes[0].Op)
	assert.True(t, p.Nodes[0].Enabled)
	assert.False(t, p.Nodes[1].Enabled)
	assert.Equal(t, "Summarize: {{note.body}}", p.Nodes[0].Config["prompt"])

	edge := p.Edges[0]
	assert.Equal(t, p.Nodes[0].ID, edge.FromNodeID)
	assert.Equal(t, p.Nodes[1].ID, edge.ToNodeID)
	assert.Equal(t, "output", edge.OutputKey)
	assert.Equal(t, "summary", edge.InputKey)

	// The loaded definition must form a valid DAG.
	g, err := buildGraph(p.Nodes, p.Edges)
	require.NoError(t, err)
	_, err = g.topologicalOrder()
	require.NoError(t, err)
}

func TestLoadDefinitionErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "nodes:\n  - name: a\n    op: llm\n",
			wantErr: "no name",
		},
		{
			name:    "no nodes",
			yaml:    "name: empty\n",
			wantErr: "no nodes",
		},
		{
			name:    "node without op",
			yaml:    "name: p\nnodes:\n  - name: a\n",
			wantErr: "no op",
		},
		{
			name:    "duplicate node name",
			yaml:    "name: p\nnodes:\n  - name: a\n    op: llm\n  - name: a\n    op: llm\n",
			wantErr: "duplicate node name",
		},
		{
			name:    "edge to unknown node",
			yaml:    "name: p\nnodes:\n  - name: a\n    op: llm\nedges:\n  - from: a\n    to: ghost\n",
			wantErr: "unknown node",
		},
		{
			name:    "unknown field rejected",
			yaml:    "name: p\nbogus: true\nnodes:\n  - name: a\n    op: llm\n",
			wantErr: "bogus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDefinition(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
