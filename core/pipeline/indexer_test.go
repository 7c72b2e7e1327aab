package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

// memoryGraph is an in-memory GraphWriter.
type memoryGraph struct {
	mu            sync.Mutex
	dimension     int
	documents     map[string]*model.Document
	chunks        map[string]*model.Chunk
	edges         map[model.Edge]bool
	vectorIndexes map[model.ChunkKind]bool
	fullText      bool

	failParents map[string]error
	onParent    func(parent *model.Chunk)
}

func newMemoryGraph() *memoryGraph {
	return &memoryGraph{
		dimension:     testDimension,
		documents:     map[string]*model.Document{},
		chunks:        map[string]*model.Chunk{},
		edges:         map[model.Edge]bool{},
		vectorIndexes: map[model.ChunkKind]bool{},
		failParents:   map[string]error{},
	}
}

func (g *memoryGraph) EmbeddingDimension() int { return g.dimension }

func (g *memoryGraph) UpsertDocument(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.documents[doc.ID] = doc
	return nil
}

func (g *memoryGraph) UpsertParentWithChildren(ctx context.Context, parent *model.Chunk, children []*model.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	err := g.failParents[parent.ID]
	if err == nil {
		g.chunks[parent.ID] = parent
		g.edges[model.Edge{SourceID: parent.DocumentID, TargetID: parent.ID, EdgeType: model.EdgeTypeHasParent}] = true
		for _, child := range children {
			g.chunks[child.ID] = child
			g.edges[model.Edge{SourceID: parent.ID, TargetID: child.ID, EdgeType: model.EdgeTypeHasChild}] = true
		}
	}
	g.mu.Unlock()

	if err == nil && g.onParent != nil {
		g.onParent(parent)
	}
	return err
}

func (g *memoryGraph) UpsertFlatChunks(ctx context.Context, chunks []*model.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, chunk := range chunks {
		g.chunks[chunk.ID] = chunk
		g.edges[model.Edge{SourceID: chunk.DocumentID, TargetID: chunk.ID, EdgeType: model.EdgeTypeHasChunk}] = true
	}
	return nil
}

func (g *memoryGraph) EnsureVectorIndex(ctx context.Context, kind model.ChunkKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vectorIndexes[kind] = true
	return nil
}

func (g *memoryGraph) EnsureFullTextIndex(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fullText = true
	return nil
}

func (g *memoryGraph) chunksOfKind(kind model.ChunkKind) map[string]*model.Chunk {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := map[string]*model.Chunk{}
	for id, chunk := range g.chunks {
		if chunk.Kind == kind {
			result[id] = chunk
		}
	}
	return result
}

// fakeEmbedder returns deterministic vectors and fails for texts containing
// a poison word.
type fakeEmbedder struct {
	dimension   int
	poison      string
	delay       time.Duration
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	current := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		seen := e.maxInFlight.Load()
		if current <= seen || e.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if e.poison != "" && strings.Contains(text, e.poison) {
			return nil, fmt.Errorf("rejected input %q", e.poison)
		}
		vector := make([]float32, e.dimension)
		vector[0] = float32(len(text))
		vectors[i] = vector
	}
	return vectors, nil
}

var wordTokenizer = TokenizerFunc(func(text string, model string) (int, error) {
	return len(strings.Fields(text)), nil
})

func testIndexConfig() model.IndexConfig {
	config := model.DefaultIndexConfig()
	config.Parent = model.ChunkingConfig{Size: 200, Overlap: 10, WhitespaceOnly: true}
	config.Child = model.ChunkingConfig{Size: 60, Overlap: 5, WhitespaceOnly: true}
	config.Flat = model.ChunkingConfig{Size: 60, Overlap: 5, WhitespaceOnly: true}
	config.MinParentTokens = 5
	config.EmbeddingTimeout = 5 * time.Second
	config.StoreTimeout = 5 * time.Second
	return config
}

// sectionedText returns n numbered sections of 20 words each. Every section
// fits into one parent chunk of testIndexConfig.
func sectionedText(n int) string {
	var b strings.Builder
	for s := 1; s <= n; s++ {
		fmt.Fprintf(&b, "\n%d. Section %d\n", s, s)
		for w := range 20 {
			fmt.Fprintf(&b, "w%d ", w)
		}
	}
	return b.String()
}

func newTestIndexer(t *testing.T, graph *memoryGraph, embedder Embedder, config model.IndexConfig) *Indexer {
	t.Helper()
	indexer, err := NewIndexer(graph, embedder, wordTokenizer, config, nil)
	require.NoError(t, err)
	return indexer
}

func TestNewIndexer(t *testing.T) {
	t.Run("Requires collaborators", func(t *testing.T) {
		_, err := NewIndexer(nil, &fakeEmbedder{dimension: testDimension}, wordTokenizer, testIndexConfig(), nil)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})

	t.Run("Rejects invalid chunking", func(t *testing.T) {
		config := testIndexConfig()
		config.Child.Overlap = config.Child.Size

		_, err := NewIndexer(newMemoryGraph(), &fakeEmbedder{dimension: testDimension}, wordTokenizer, config, nil)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})
}

func TestIndexDocument(t *testing.T) {
	t.Run("Writes parents, children and edges", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())

		report, err := indexer.IndexDocument(context.Background(), "doc", sectionedText(3))

		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, 4, report.Sections, "Expected empty preamble plus three sections")
		assert.Equal(t, 3, report.Parents)
		assert.Equal(t, 3, report.Indexed)
		assert.Empty(t, report.Skipped)
		assert.NotZero(t, report.CompletedAt)

		parents := graph.chunksOfKind(model.ChunkKindParent)
		require.Len(t, parents, 3)
		for i := range 3 {
			parent := parents[model.ParentChunkID("doc", i)]
			require.NotNil(t, parent)
			assert.Empty(t, parent.Embedding, "Parents carry no embedding")
			assert.Equal(t, 23, parent.Metadata["tokens"])
			assert.True(t, graph.edges[model.Edge{SourceID: "doc", TargetID: parent.ID, EdgeType: model.EdgeTypeHasParent}])
		}

		children := graph.chunksOfKind(model.ChunkKindChild)
		assert.Len(t, children, report.Children)
		for id, child := range children {
			require.NotNil(t, child.ParentIndex)
			parentID := model.ParentChunkID("doc", *child.ParentIndex)
			assert.Equal(t, model.ChildChunkID("doc", *child.ParentIndex, child.ChunkIndex), id)
			assert.Len(t, child.Embedding, testDimension)
			assert.Contains(t, parents[parentID].Content, child.Content)
			assert.True(t, graph.edges[model.Edge{SourceID: parentID, TargetID: id, EdgeType: model.EdgeTypeHasChild}])
		}

		assert.True(t, graph.vectorIndexes[model.ChunkKindChild])
		assert.Contains(t, graph.documents, "doc")
	})

	t.Run("Skips parents below the token threshold", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())

		report, err := indexer.IndexDocument(context.Background(), "doc", "tiny preamble"+sectionedText(1))

		require.NoError(t, err)
		require.Len(t, report.Skipped, 1)
		assert.Equal(t, 0, report.Skipped[0].Index)
		assert.Equal(t, 2, report.Skipped[0].Tokens)
		assert.Equal(t, "tiny preamble", report.Skipped[0].Text)
		assert.Equal(t, 1, report.Indexed)

		parents := graph.chunksOfKind(model.ChunkKindParent)
		assert.NotContains(t, parents, model.ParentChunkID("doc", 0), "Skipped parent must not be stored")
		assert.Contains(t, parents, model.ParentChunkID("doc", 1), "Indices keep counting over skipped parents")
		for _, child := range graph.chunksOfKind(model.ChunkKindChild) {
			assert.Equal(t, 1, *child.ParentIndex)
		}
	})

	t.Run("Isolates a failing write", func(t *testing.T) {
		graph := newMemoryGraph()
		graph.failParents[model.ParentChunkID("doc", 1)] = errors.New("disk full")
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())

		report, err := indexer.IndexDocument(context.Background(), "doc", sectionedText(3))

		require.NoError(t, err)
		assert.False(t, report.OK())
		require.Len(t, report.Failed, 1)
		assert.Equal(t, 1, report.Failed[0].Index)
		assert.Equal(t, "doc-1", report.Failed[0].ChunkID)
		assert.Equal(t, "persistence", report.Failed[0].ErrorKind)
		assert.Contains(t, report.Failed[0].Error, "disk full")
		assert.Equal(t, 2, report.Indexed)

		parents := graph.chunksOfKind(model.ChunkKindParent)
		assert.Contains(t, parents, "doc-0")
		assert.Contains(t, parents, "doc-2")
	})

	t.Run("Isolates a failing embedding", func(t *testing.T) {
		graph := newMemoryGraph()
		embedder := &fakeEmbedder{dimension: testDimension, poison: "Section 2"}
		indexer := newTestIndexer(t, graph, embedder, testIndexConfig())

		report, err := indexer.IndexDocument(context.Background(), "doc", sectionedText(3))

		require.NoError(t, err)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "doc-1", report.Failed[0].ChunkID)
		assert.Equal(t, "embedding_service", report.Failed[0].ErrorKind)
		assert.Len(t, graph.chunksOfKind(model.ChunkKindParent), 2)
	})

	t.Run("Reports embeddings of the wrong dimension", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension + 1}, testIndexConfig())

		report, err := indexer.IndexDocument(context.Background(), "doc", sectionedText(2))

		require.NoError(t, err)
		require.Len(t, report.Failed, 2)
		for _, failed := range report.Failed {
			assert.Equal(t, "dimension_mismatch", failed.ErrorKind)
		}
		assert.Empty(t, graph.chunksOfKind(model.ChunkKindChild))
	})

	t.Run("Re-indexing produces the same identifiers", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())
		text := sectionedText(3)

		first, err := indexer.IndexDocument(context.Background(), "doc", text)
		require.NoError(t, err)
		count := len(graph.chunks)
		edges := len(graph.edges)

		second, err := indexer.IndexDocument(context.Background(), "doc", text)
		require.NoError(t, err)

		assert.Equal(t, count, len(graph.chunks))
		assert.Equal(t, edges, len(graph.edges))
		assert.Equal(t, first.Children, second.Children)
		assert.NotEqual(t, first.RunID, second.RunID)
	})

	t.Run("Embeds parents concurrently up to the limit", func(t *testing.T) {
		graph := newMemoryGraph()
		embedder := &fakeEmbedder{dimension: testDimension, delay: 30 * time.Millisecond}
		config := testIndexConfig()
		config.Concurrency = 3
		indexer := newTestIndexer(t, graph, embedder, config)

		report, err := indexer.IndexDocument(context.Background(), "doc", sectionedText(8))

		require.NoError(t, err)
		assert.Equal(t, 8, report.Indexed)
		assert.Equal(t, int32(8), embedder.calls.Load(), "Expected one embedding request per parent")
		assert.LessOrEqual(t, embedder.maxInFlight.Load(), int32(3))
		assert.Greater(t, embedder.maxInFlight.Load(), int32(1))
	})

	t.Run("Stops when the context is cancelled", func(t *testing.T) {
		graph := newMemoryGraph()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		graph.onParent = func(parent *model.Chunk) { cancel() }
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())

		report, err := indexer.IndexDocument(ctx, "doc", sectionedText(4))

		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.Indexed)
		assert.False(t, graph.vectorIndexes[model.ChunkKindChild])
	})

	t.Run("Fails on tokenizer errors", func(t *testing.T) {
		graph := newMemoryGraph()
		tokenizer := TokenizerFunc(func(text string, model string) (int, error) {
			return 0, fmt.Errorf("unknown model %q", model)
		})
		indexer, err := NewIndexer(graph, &fakeEmbedder{dimension: testDimension}, tokenizer, testIndexConfig(), nil)
		require.NoError(t, err)

		_, err = indexer.IndexDocument(context.Background(), "doc", sectionedText(1))

		assert.ErrorIs(t, err, helper.ErrTokenization)
		assert.Empty(t, graph.chunks)
	})

	t.Run("Requires a document id", func(t *testing.T) {
		indexer := newTestIndexer(t, newMemoryGraph(), &fakeEmbedder{dimension: testDimension}, testIndexConfig())

		_, err := indexer.IndexDocument(context.Background(), "", "text")
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})

	t.Run("Uses a replaced boundary detector", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension}, testIndexConfig())
		indexer.SetBoundaryDetector(MarkupDetector{})

		report, err := indexer.IndexDocument(context.Background(), "doc", "# One\nalpha beta gamma delta epsilon\n# Two\nzeta eta theta iota kappa")

		require.NoError(t, err)
		assert.Equal(t, 3, report.Sections)
		assert.Equal(t, 2, report.Indexed)
	})
}

func TestIndexFlat(t *testing.T) {
	t.Run("Writes flat chunks with one embedding request", func(t *testing.T) {
		graph := newMemoryGraph()
		embedder := &fakeEmbedder{dimension: testDimension}
		indexer := newTestIndexer(t, graph, embedder, testIndexConfig())
		doc := &model.Document{ID: "flat", Title: "Flat", Content: sectionedText(2)}

		report, err := indexer.IndexFlat(context.Background(), doc)

		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Greater(t, report.Parents, 1)
		assert.Equal(t, report.Parents, report.Indexed)
		assert.Equal(t, int32(1), embedder.calls.Load())

		chunks := graph.chunksOfKind(model.ChunkKindFlat)
		require.Len(t, chunks, report.Indexed)
		for i := range report.Indexed {
			id := model.FlatChunkID("flat", i)
			require.Contains(t, chunks, id)
			assert.True(t, graph.edges[model.Edge{SourceID: "flat", TargetID: id, EdgeType: model.EdgeTypeHasChunk}])
		}
		assert.Empty(t, graph.chunksOfKind(model.ChunkKindParent))
		assert.True(t, graph.vectorIndexes[model.ChunkKindFlat])
		assert.True(t, graph.fullText)
	})

	t.Run("Reports a failed batch", func(t *testing.T) {
		graph := newMemoryGraph()
		indexer := newTestIndexer(t, graph, &fakeEmbedder{dimension: testDimension, poison: "w7"}, testIndexConfig())

		report, err := indexer.IndexFlat(context.Background(), &model.Document{ID: "flat", Content: sectionedText(1)})

		require.NoError(t, err)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "flat-chunk-0", report.Failed[0].ChunkID)
		assert.Equal(t, "embedding_service", report.Failed[0].ErrorKind)
		assert.Zero(t, report.Indexed)
		assert.Empty(t, graph.chunks)
	})

	t.Run("Writes nothing for empty text", func(t *testing.T) {
		graph := newMemoryGraph()
		embedder := &fakeEmbedder{dimension: testDimension}
		indexer := newTestIndexer(t, graph, embedder, testIndexConfig())

		report, err := indexer.IndexFlat(context.Background(), &model.Document{ID: "empty", Content: "   "})

		require.NoError(t, err)
		assert.Zero(t, report.Parents)
		assert.Zero(t, embedder.calls.Load())
		assert.Contains(t, graph.documents, "empty")
	})
}
