package database

import (
	"context"
	"testing"

	"github.com/siherrmann/parentrag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgesNewEdgesDBHandler(t *testing.T) {
	t.Run("Invalid call NewEdgesDBHandler with nil database", func(t *testing.T) {
		_, err := NewEdgesDBHandler(nil, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is nil")
	})
}

func TestEdges(t *testing.T) {
	store := initGraphStore(t)
	ctx := context.Background()
	doc := newTestDocument(t, store)
	edgesDbHandler := store.Edges()

	parents := []*model.Chunk{}
	for p := 0; p < 2; p++ {
		parent := &model.Chunk{ID: model.ParentChunkID(doc.ID, p), DocumentID: doc.ID, Kind: model.ChunkKindParent, ChunkIndex: p, Content: "parent"}
		require.NoError(t, store.Chunks().UpsertChunk(ctx, parent))
		parents = append(parents, parent)

		for c := 0; c < 2; c++ {
			p := p
			child := &model.Chunk{ID: model.ChildChunkID(doc.ID, p, c), DocumentID: doc.ID, Kind: model.ChunkKindChild, ChunkIndex: c, ParentIndex: &p, Content: "child", Embedding: axisEmbedding(c)}
			require.NoError(t, store.Chunks().UpsertChunk(ctx, child))
		}
	}

	t.Run("Upsert edge is idempotent", func(t *testing.T) {
		edge := &model.Edge{SourceID: parents[0].ID, TargetID: model.ChildChunkID(doc.ID, 0, 0), EdgeType: model.EdgeTypeHasChild}
		require.NoError(t, edgesDbHandler.UpsertEdge(ctx, edge))
		first := edge.CreatedAt

		require.NoError(t, edgesDbHandler.UpsertEdge(ctx, edge))
		assert.Equal(t, first, edge.CreatedAt, "Expected the existing edge to be returned")

		edges, err := edgesDbHandler.SelectEdgesFromNode(ctx, parents[0].ID, model.EdgeTypeHasChild)
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("Select parents of children", func(t *testing.T) {
		for p := range parents {
			for c := 0; c < 2; c++ {
				edge := &model.Edge{SourceID: parents[p].ID, TargetID: model.ChildChunkID(doc.ID, p, c), EdgeType: model.EdgeTypeHasChild}
				require.NoError(t, edgesDbHandler.UpsertEdge(ctx, edge))
			}
		}

		childIDs := []string{
			model.ChildChunkID(doc.ID, 0, 0),
			model.ChildChunkID(doc.ID, 0, 1),
			model.ChildChunkID(doc.ID, 1, 1),
			"unknown-child",
		}
		result, err := edgesDbHandler.SelectParentsOfChildren(ctx, childIDs)
		require.NoError(t, err)
		require.Len(t, result, 3, "Expected unknown children to be absent")
		assert.Equal(t, parents[0].ID, result[childIDs[0]].ID)
		assert.Same(t, result[childIDs[0]], result[childIDs[1]], "Expected siblings to share the parent value")
		assert.Equal(t, parents[1].ID, result[childIDs[2]].ID)
	})

	t.Run("Select parents of no children", func(t *testing.T) {
		result, err := edgesDbHandler.SelectParentsOfChildren(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("Select edges to chunk", func(t *testing.T) {
		edges, err := edgesDbHandler.SelectEdgesToChunk(ctx, model.ChildChunkID(doc.ID, 1, 0), "")
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, parents[1].ID, edges[0].SourceID)
		assert.Equal(t, model.EdgeTypeHasChild, edges[0].EdgeType)
	})

	t.Run("Count and delete edges", func(t *testing.T) {
		count, err := edgesDbHandler.CountEdgesByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		deleted, err := edgesDbHandler.DeleteEdge(ctx, &model.Edge{SourceID: parents[1].ID, TargetID: model.ChildChunkID(doc.ID, 1, 0), EdgeType: model.EdgeTypeHasChild})
		require.NoError(t, err)
		assert.True(t, deleted)

		count, err = edgesDbHandler.CountEdgesByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Deleting a parent removes its outgoing edges", func(t *testing.T) {
		_, err := store.Chunks().DeleteChunk(ctx, parents[0].ID)
		require.NoError(t, err)

		edges, err := edgesDbHandler.SelectEdgesFromNode(ctx, parents[0].ID, "")
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}
