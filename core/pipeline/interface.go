package pipeline

import (
	"context"

	"github.com/siherrmann/parentrag/model"
)

// Chunker splits text into trimmed, non-empty chunks.
type Chunker interface {
	Chunk(text string) ([]string, error)
}

// ChunkFunc adapts a function to the Chunker interface
type ChunkFunc func(text string) ([]string, error)

func (f ChunkFunc) Chunk(text string) ([]string, error) { return f(text) }

// Embedder returns one embedding per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedFunc adapts a function to the Embedder interface
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Tokenizer counts the tokens of text as seen by the named model.
type Tokenizer interface {
	CountTokens(text string, model string) (int, error)
}

// TokenizerFunc adapts a function to the Tokenizer interface
type TokenizerFunc func(text string, model string) (int, error)

func (f TokenizerFunc) CountTokens(text string, model string) (int, error) { return f(text, model) }

// BoundaryDetector finds section headings. Each boundary holds the [start, end)
// byte offsets of one heading; boundaries are ordered and disjoint.
type BoundaryDetector interface {
	Boundaries(text string) [][2]int
}

// GraphWriter persists the document graph built by the Indexer.
type GraphWriter interface {
	EmbeddingDimension() int
	UpsertDocument(ctx context.Context, doc *model.Document) error
	UpsertParentWithChildren(ctx context.Context, parent *model.Chunk, children []*model.Chunk) error
	UpsertFlatChunks(ctx context.Context, chunks []*model.Chunk) error
	EnsureVectorIndex(ctx context.Context, kind model.ChunkKind) error
	EnsureFullTextIndex(ctx context.Context) error
}
