package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// GraphStore writes and reads the document graph: document nodes, parent,
// child and flat chunk nodes and the edges between them. Every error it
// returns is a helper.ErrPersistence unless stated otherwise.
type GraphStore struct {
	db        *helper.Database
	documents *DocumentsDBHandler
	chunks    *ChunksDBHandler
	edges     *EdgesDBHandler
}

// NewGraphStore creates the handlers in dependency order and returns the store.
func NewGraphStore(db *helper.Database, embeddingDim int, force bool) (*GraphStore, error) {
	documents, err := NewDocumentsDBHandler(db, force)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "documents handler", err)
	}

	chunks, err := NewChunksDBHandler(db, embeddingDim, force)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "chunks handler", err)
	}

	edges, err := NewEdgesDBHandler(db, force)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "edges handler", err)
	}

	return &GraphStore{
		db:        db,
		documents: documents,
		chunks:    chunks,
		edges:     edges,
	}, nil
}

// Documents returns the documents handler
func (s *GraphStore) Documents() *DocumentsDBHandler { return s.documents }

// Chunks returns the chunks handler
func (s *GraphStore) Chunks() *ChunksDBHandler { return s.chunks }

// Edges returns the edges handler
func (s *GraphStore) Edges() *EdgesDBHandler { return s.edges }

// EmbeddingDimension returns the dimension every stored embedding has.
func (s *GraphStore) EmbeddingDimension() int {
	return s.chunks.Dimension()
}

// UpsertDocument creates or updates the document node.
func (s *GraphStore) UpsertDocument(ctx context.Context, doc *model.Document) error {
	if doc == nil || doc.ID == "" {
		return helper.NewKindError(helper.ErrInvalidArgument, "validate document", fmt.Errorf("document id is required"))
	}
	if err := s.documents.UpsertDocument(ctx, doc); err != nil {
		return helper.NewKindError(helper.ErrPersistence, "upsert document", err)
	}
	return nil
}

// UpsertParentWithChildren writes a parent chunk, its children and the
// has_parent and has_child edges in one transaction. Children must carry an
// embedding of the store dimension (helper.ErrDimensionMismatch otherwise).
func (s *GraphStore) UpsertParentWithChildren(ctx context.Context, parent *model.Chunk, children []*model.Chunk) error {
	if parent == nil || parent.ID == "" || parent.DocumentID == "" {
		return helper.NewKindError(helper.ErrInvalidArgument, "validate parent", fmt.Errorf("parent id and document id are required"))
	}
	for _, child := range children {
		if err := s.checkEmbedding(child); err != nil {
			return err
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertChunk(ctx, tx, parent); err != nil {
			return helper.NewError("upsert parent "+parent.ID, err)
		}
		err := upsertEdge(ctx, tx, &model.Edge{SourceID: parent.DocumentID, TargetID: parent.ID, EdgeType: model.EdgeTypeHasParent})
		if err != nil {
			return helper.NewError("upsert has_parent edge", err)
		}

		for _, child := range children {
			if err := upsertChunk(ctx, tx, child); err != nil {
				return helper.NewError("upsert child "+child.ID, err)
			}
			err := upsertEdge(ctx, tx, &model.Edge{SourceID: parent.ID, TargetID: child.ID, EdgeType: model.EdgeTypeHasChild})
			if err != nil {
				return helper.NewError("upsert has_child edge", err)
			}
		}
		return nil
	})
}

// UpsertFlatChunks writes chunks of the flat variant and their has_chunk
// edges from the document in one transaction.
func (s *GraphStore) UpsertFlatChunks(ctx context.Context, chunks []*model.Chunk) error {
	for _, chunk := range chunks {
		if err := s.checkEmbedding(chunk); err != nil {
			return err
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunks {
			if err := upsertChunk(ctx, tx, chunk); err != nil {
				return helper.NewError("upsert chunk "+chunk.ID, err)
			}
			err := upsertEdge(ctx, tx, &model.Edge{SourceID: chunk.DocumentID, TargetID: chunk.ID, EdgeType: model.EdgeTypeHasChunk})
			if err != nil {
				return helper.NewError("upsert has_chunk edge", err)
			}
		}
		return nil
	})
}

// EnsureVectorIndex creates the vector index over chunks of kind if absent.
func (s *GraphStore) EnsureVectorIndex(ctx context.Context, kind model.ChunkKind) error {
	return s.chunks.EnsureVectorIndex(ctx, kind)
}

// EnsureFullTextIndex creates the full-text index over chunk content if absent.
func (s *GraphStore) EnsureFullTextIndex(ctx context.Context) error {
	return s.chunks.EnsureFullTextIndex(ctx)
}

// SearchSimilar returns up to limit chunks of kind nearest to embedding,
// most similar first.
func (s *GraphStore) SearchSimilar(ctx context.Context, embedding []float32, kind model.ChunkKind, limit int) ([]*model.Chunk, error) {
	if len(embedding) != s.EmbeddingDimension() {
		return nil, helper.NewKindError(helper.ErrDimensionMismatch, "search similar", fmt.Errorf("query has %d dimensions, store %d", len(embedding), s.EmbeddingDimension()))
	}
	chunks, err := s.chunks.SelectChunksBySimilarity(ctx, embedding, kind, limit, nil)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "search similar", err)
	}
	return chunks, nil
}

// SearchKeyword returns up to limit chunks of kind matching query in full
// text, best ranked first.
func (s *GraphStore) SearchKeyword(ctx context.Context, query string, kind model.ChunkKind, limit int) ([]*model.Chunk, error) {
	chunks, err := s.chunks.SelectChunksByKeyword(ctx, query, kind, limit, nil)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "search keyword", err)
	}
	return chunks, nil
}

// ParentsOfChildren maps child chunk IDs to their parent chunk.
func (s *GraphStore) ParentsOfChildren(ctx context.Context, childIDs []string) (map[string]*model.Chunk, error) {
	parents, err := s.edges.SelectParentsOfChildren(ctx, childIDs)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "parents of children", err)
	}
	return parents, nil
}

// DeleteDocument removes a document node with all its chunks and edges.
func (s *GraphStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	deleted, err := s.documents.DeleteDocument(ctx, documentID)
	if err != nil {
		return false, helper.NewKindError(helper.ErrPersistence, "delete document", err)
	}
	return deleted, nil
}

// Stats counts the nodes and edges stored for a document.
func (s *GraphStore) Stats(ctx context.Context, documentID string) (*model.GraphStats, error) {
	stats := &model.GraphStats{DocumentID: documentID}

	counts := []struct {
		kind   model.ChunkKind
		target *int
	}{
		{model.ChunkKindParent, &stats.Parents},
		{model.ChunkKindChild, &stats.Children},
		{model.ChunkKindFlat, &stats.Chunks},
	}
	for _, c := range counts {
		n, err := s.chunks.CountChunks(ctx, documentID, c.kind)
		if err != nil {
			return nil, helper.NewKindError(helper.ErrPersistence, "count chunks", err)
		}
		*c.target = n
	}

	edges, err := s.edges.CountEdgesByDocument(ctx, documentID)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "count edges", err)
	}
	stats.Edges = edges

	return stats, nil
}

func (s *GraphStore) checkEmbedding(chunk *model.Chunk) error {
	if chunk == nil || chunk.ID == "" || chunk.DocumentID == "" {
		return helper.NewKindError(helper.ErrInvalidArgument, "validate chunk", fmt.Errorf("chunk id and document id are required"))
	}
	if len(chunk.Embedding) != s.EmbeddingDimension() {
		return helper.NewKindError(helper.ErrDimensionMismatch, "validate chunk "+chunk.ID, fmt.Errorf("embedding has %d dimensions, store %d", len(chunk.Embedding), s.EmbeddingDimension()))
	}
	return nil
}

func (s *GraphStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewKindError(helper.ErrPersistence, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.db.Logger.Error("Rollback failed", "error", rbErr)
		}
		return helper.NewKindError(helper.ErrPersistence, "write graph", err)
	}

	if err := tx.Commit(); err != nil {
		return helper.NewKindError(helper.ErrPersistence, "commit transaction", err)
	}
	return nil
}
