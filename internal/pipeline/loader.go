package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk YAML shape of a pipeline. Nodes carry
// human-readable names; edges reference nodes by those names.
type definitionFile struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Enabled     *bool            `yaml:"enabled"`
	Nodes       []definitionNode `yaml:"nodes"`
	Edges       []definitionEdge `yaml:"edges"`
}

type definitionNode struct {
	Name    string         `yaml:"name"`
	Op      string         `yaml:"op"`
	Enabled *bool          `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

type definitionEdge struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	OutputKey string `yaml:"output_key"`
	InputKey  string `yaml:"input_key"`
}

// LoadDefinition parses a YAML pipeline definition into a Pipeline with
// freshly assigned ids. Node and pipeline enabled flags default to true
// when omitted. Edges referencing unknown node names are rejected.
func LoadDefinition(r io.Reader) (*Pipeline, error) {
	var def definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("pipeline definition has no name")
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("pipeline %q has no nodes", def.Name)
	}

	now := time.Now().UTC()
	p := &Pipeline{
		ID:          uuid.New(),
		Name:        def.Name,
		Description: def.Description,
		Enabled:     def.Enabled == nil || *def.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	idsByName := make(map[string]uuid.UUID, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("pipeline %q has a node without a name", def.Name)
		}
		if n.Op == "" {
			return nil, fmt.Errorf("node %q has no op", n.Name)
		}
		if _, exists := idsByName[n.Name]; exists {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}

		id := uuid.New()
		idsByName[n.Name] = id
		p.Nodes = append(p.Nodes, Node{
			ID:      id,
			Op:      n.Op,
			Enabled: n.Enabled == nil || *n.Enabled,
			Config:  n.Config,
		})
	}

	for i, e := range def.Edges {
		from, ok := idsByName[e.From]
		if !ok {
			return nil, fmt.Errorf("edge %d references unknown node %q", i, e.From)
		}
		to, ok := idsByName[e.To]
		if !ok {
			return nil, fmt.Errorf("edge %d references unknown node %q", i, e.To)
		}
		p.Edges = append(p.Edges, Edge{
			ID:         uuid.New(),
			FromNodeID: from,
			ToNodeID:   to,
			OutputKey:  e.OutputKey,
			InputKey:   e.InputKey,
		})
	}

	return p, nil
}
