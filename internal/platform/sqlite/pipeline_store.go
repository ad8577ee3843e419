package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/store"
)

// PipelineStore implements pipeline.Store using SQLite.
type PipelineStore struct {
	db store.DBTX
}

// NewPipelineStore creates a new PipelineStore.
func NewPipelineStore(db store.DBTX) *PipelineStore {
	return &PipelineStore{db: db}
}

// CreatePipeline persists a pipeline definition with its nodes and edges.
func (s *PipelineStore) CreatePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, description, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID.String(), p.Name, p.Description, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	for _, n := range p.Nodes {
		config, err := json.Marshal(n.Config)
		if err != nil {
			return fmt.Errorf("failed to serialize node config: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pipeline_nodes (id, pipeline_id, op, enabled, config)
			VALUES (?, ?, ?, ?, ?)
		`, n.ID.String(), p.ID.String(), n.Op, n.Enabled, config)
		if err != nil {
			return fmt.Errorf("failed to create pipeline node: %w", err)
		}
	}

	for _, e := range p.Edges {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pipeline_edges (id, pipeline_id, from_node_id, to_node_id, output_key, input_key)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID.String(), p.ID.String(), e.FromNodeID.String(), e.ToNodeID.String(), e.OutputKey, e.InputKey)
		if err != nil {
			return fmt.Errorf("failed to create pipeline edge: %w", err)
		}
	}

	return nil
}

// GetPipeline retrieves a pipeline definition with its nodes and edges.
func (s *PipelineStore) GetPipeline(ctx context.Context, id uuid.UUID) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	var pid string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, enabled, created_at, updated_at
		FROM pipelines WHERE id = ?
	`, id.String()).Scan(&pid, &p.Name, &p.Description, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPipelineNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	if p.ID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("invalid pipeline id %q: %w", pid, err)
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
		FROM pipeline_nodes WHERE pipeline_id = ?
	`, p.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query pipeline nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var n pipeline.Node
		var nid string
		var config []byte
		if err := rows.Scan(&nid, &n.Op, &n.Enabled, &config); err != nil {
			return fmt.Errorf("failed to scan pipeline node: %w", err)
		}
		if n.ID, err = uuid.Parse(nid); err != nil {
			return fmt.Errorf("invalid node id %q: %w", nid, err)
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
		FROM pipeline_edges WHERE pipeline_id = ?
	`, p.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query pipeline edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e pipeline.Edge
		var eid, from, to string
		if err := rows.Scan(&eid, &from, &to, &e.OutputKey, &e.InputKey); err != nil {
			return fmt.Errorf("failed to scan pipeline edge: %w", err)
		}
		if e.ID, err = uuid.Parse(eid); err != nil {
			return fmt.Errorf("invalid edge id %q: %w", eid, err)
		}
		if e.FromNodeID, err = uuid.Parse(from); err != nil {
			return fmt.Errorf("invalid edge source id %q: %w", from, err)
		}
		if e.ToNodeID, err = uuid.Parse(to); err != nil {
			return fmt.Errorf("invalid edge target id %q: %w", to, err)
		}
		p.Edges = append(p.Edges, e)
	}
	return rows.Err()
}

var _ pipeline.Store = (*PipelineStore)(nil)
