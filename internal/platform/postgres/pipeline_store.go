package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/platform/logger"
	"github.com/jotstack/jotstack/internal/store"
)

// PipelineStore implements pipeline.Store using PostgreSQL. A pipeline's
// nodes and edges live in their own tables and are loaded with the
// definition.
type PipelineStore struct {
	db store.DBTX
}

// NewPipelineStore creates a new PipelineStore.
func NewPipelineStore(db store.DBTX) *PipelineStore {
	return &PipelineStore{db: db}
}

// CreatePipeline persists a pipeline definition with its nodes and edges.
// Callers should run this inside a transaction so a partially written
// definition is never visible.
func (s *PipelineStore) CreatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	log := logger.FromContext(ctx)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Description, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		log.Error("failed to create pipeline", "pipeline_id", p.ID, "error", err)
		return mapError(fmt.Errorf("failed to create pipeline: %w", err), store.ErrPipelineNotFound)
	}

	for _, n := range p.Nodes {
		config, err := json.Marshal(n.Config)
		if err != nil {
			return fmt.Errorf("failed to serialize node config: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pipeline_nodes (id, pipeline_id, op, enabled, config)
			VALUES ($1, $2, $3, $4, $5)
		`, n.ID, p.ID, n.Op, n.Enabled, config)
		if err != nil {
			return mapError(fmt.Errorf("failed to create pipeline node: %w", err), store.ErrPipelineNotFound)
		}
	}

	for _, e := range p.Edges {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pipeline_edges (id, pipeline_id, from_node_id, to_node_id, output_key, input_key)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, p.ID, e.FromNodeID, e.ToNodeID, e.OutputKey, e.InputKey)
		if err != nil {
			return mapError(fmt.Errorf("failed to create pipeline edge: %w", err), store.ErrPipelineNotFound)
		}
	}

	return nil
}

// GetPipeline retrieves a pipeline definition with its nodes and edges.
func (s *PipelineStore) GetPipeline(ctx context.Context, id uuid.UUID) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, enabled, created_at, updated_at
		FROM pipelines WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err, store.ErrPipelineNotFound)
	}

	if err := s.loadNodes(ctx, &p); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PipelineStore) loadNodes(ctx context.Context, p *pipeline.Pipeline) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op, enabled, config
		FROM pipeline_nodes WHERE pipeline_id = $1
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to query pipeline nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var n pipeline.Node
		var config []byte
		if err := rows.Scan(&n.ID, &n.Op, &n.Enabled, &config); err != nil {
			return fmt.Errorf("failed to scan pipeline node: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &n.Config); err != nil {
				return fmt.Errorf("failed to parse node config: %w", err)
			}
		}
		p.Nodes = append(p.Nodes, n)
	}
	return rows.Err()
}

func (s *PipelineStore) loadEdges(ctx context.Context, p *pipeline.Pipeline) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id, output_key, input_key
		FROM pipeline_edges WHERE pipeline_id = $1
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to query pipeline edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e pipeline.Edge
		if err := rows.Scan(&e.ID, &e.FromNodeID, &e.ToNodeID, &e.OutputKey, &e.InputKey); err != nil {
			return fmt.Errorf("failed to scan pipeline edge: %w", err)
		}
		p.Edges = append(p.Edges, e)
	}
	return rows.Err()
}

var _ pipeline.Store = (*PipelineStore)(nil)
