package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	loadSql "github.com/siherrmann/parentrag/sql"
)

// EdgesDBHandlerFunctions defines the interface for Edges database operations.
type EdgesDBHandlerFunctions interface {
	UpsertEdge(ctx context.Context, edge *model.Edge) error
	DeleteEdge(ctx context.Context, edge *model.Edge) (bool, error)
	SelectEdgesFromNode(ctx context.Context, sourceID string, edgeType model.EdgeType) ([]*model.Edge, error)
	SelectEdgesToChunk(ctx context.Context, targetID string, edgeType model.EdgeType) ([]*model.Edge, error)
	SelectParentsOfChildren(ctx context.Context, childIDs []string) (map[string]*model.Chunk, error)
	CountEdgesByDocument(ctx context.Context, documentID string) (int, error)
}

// EdgesDBHandler handles edge-related database operations
type EdgesDBHandler struct {
	db *helper.Database
}

// NewEdgesDBHandler creates a new edges database handler.
// The chunks table must exist.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEdgesDBHandler(db *helper.Database, force bool) (*EdgesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	edgesDbHandler := &EdgesDBHandler{
		db: db,
	}

	err := loadSql.LoadEdgesSql(edgesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load edges sql", err)
	}

	err = edgesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EdgesDBHandler")

	return edgesDbHandler, nil
}

// CreateTable creates the 'edges' table if it does not exist yet.
func (h *EdgesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_edges();`)
	if err != nil {
		log.Panicf("error initializing edges table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table edges")

	return nil
}

// UpsertEdge creates an edge unless it already exists
func (h *EdgesDBHandler) UpsertEdge(ctx context.Context, edge *model.Edge) error {
	return upsertEdge(ctx, h.db.Instance, edge)
}

func upsertEdge(ctx context.Context, q querier, edge *model.Edge) error {
	row := q.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_edge($1, $2, $3)`,
		edge.SourceID,
		edge.TargetID,
		string(edge.EdgeType),
	)

	err := scanEdge(row, edge)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// DeleteEdge deletes an edge. It reports whether the edge existed.
func (h *EdgesDBHandler) DeleteEdge(ctx context.Context, edge *model.Edge) (bool, error) {
	var deleted int64
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT delete_edge($1, $2, $3)`,
		edge.SourceID,
		edge.TargetID,
		string(edge.EdgeType),
	).Scan(&deleted)
	if err != nil {
		return false, helper.NewError("exec", err)
	}
	return deleted > 0, nil
}

// SelectEdgesFromNode retrieves edges leaving a document or chunk.
// An empty edgeType selects every type.
func (h *EdgesDBHandler) SelectEdgesFromNode(ctx context.Context, sourceID string, edgeType model.EdgeType) ([]*model.Edge, error) {
	return h.selectEdges(ctx, `SELECT * FROM select_edges_from_node($1, $2)`, sourceID, nullEdgeType(edgeType))
}

// SelectEdgesToChunk retrieves edges pointing at a chunk
func (h *EdgesDBHandler) SelectEdgesToChunk(ctx context.Context, targetID string, edgeType model.EdgeType) ([]*model.Edge, error) {
	return h.selectEdges(ctx, `SELECT * FROM select_edges_to_chunk($1, $2)`, targetID, nullEdgeType(edgeType))
}

func (h *EdgesDBHandler) selectEdges(ctx context.Context, query string, args ...any) ([]*model.Edge, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		edge := &model.Edge{}
		if err := scanEdge(rows, edge); err != nil {
			return nil, helper.NewError("scan", err)
		}
		edges = append(edges, edge)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return edges, nil
}

// SelectParentsOfChildren resolves the parent chunk of each child ID over
// has_child edges. Children without a parent are absent from the map.
func (h *EdgesDBHandler) SelectParentsOfChildren(ctx context.Context, childIDs []string) (map[string]*model.Chunk, error) {
	parents := map[string]*model.Chunk{}
	if len(childIDs) == 0 {
		return parents, nil
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_parents_of_children($1)`,
		pq.Array(childIDs),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	// Children of one parent share the same chunk value.
	byID := map[string]*model.Chunk{}
	for rows.Next() {
		var childID string
		parent := &model.Chunk{}
		var row scanner = scannerFunc(func(dest ...any) error {
			return rows.Scan(append([]any{&childID}, dest...)...)
		})
		if err := scanChunk(row, parent); err != nil {
			return nil, helper.NewError("scan", err)
		}
		if existing, ok := byID[parent.ID]; ok {
			parent = existing
		} else {
			byID[parent.ID] = parent
		}
		parents[childID] = parent
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return parents, nil
}

// CountEdgesByDocument counts the edges pointing at chunks of a document
func (h *EdgesDBHandler) CountEdgesByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT count_edges_by_document($1)`,
		documentID,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

func scanEdge(row scanner, edge *model.Edge) error {
	var edgeType string
	err := row.Scan(
		&edge.SourceID,
		&edge.TargetID,
		&edgeType,
		&edge.CreatedAt,
	)
	if err != nil {
		return err
	}
	edge.EdgeType = model.EdgeType(edgeType)
	return nil
}

type scannerFunc func(dest ...any) error

func (f scannerFunc) Scan(dest ...any) error {
	return f(dest...)
}

func nullEdgeType(edgeType model.EdgeType) any {
	if edgeType == "" {
		return nil
	}
	return string(edgeType)
}
