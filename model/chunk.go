package model

import (
	"fmt"
	"time"
)

// ChunkKind distinguishes the node labels stored in the chunks table.
type ChunkKind string

const (
	ChunkKindParent ChunkKind = "parent"
	ChunkKindChild  ChunkKind = "child"
	ChunkKindFlat   ChunkKind = "chunk"
)

type RetrievalMethod string

const (
	RetrievalMethodVector  RetrievalMethod = "vector"
	RetrievalMethodKeyword RetrievalMethod = "keyword"
	RetrievalMethodParent  RetrievalMethod = "parent"
	RetrievalMethodHybrid  RetrievalMethod = "hybrid"
)

// Chunk is a text node of the graph. Parents carry no embedding, children
// and flat chunks always do.
type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Kind        ChunkKind `json:"kind"`
	ChunkIndex  int       `json:"chunk_index"`
	ParentIndex *int      `json:"parent_index,omitempty"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Results
	Similarity float64 `json:"similarity,omitempty"`
}

// ParentChunkID derives the identifier of the parent chunk at parentIndex.
func ParentChunkID(documentID string, parentIndex int) string {
	return fmt.Sprintf("%s-%d", documentID, parentIndex)
}

// ChildChunkID derives the identifier of a child chunk of a parent.
func ChildChunkID(documentID string, parentIndex int, childIndex int) string {
	return fmt.Sprintf("%s-%d-%d", documentID, parentIndex, childIndex)
}

// FlatChunkID derives the identifier of a chunk of the flat variant.
func FlatChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}
