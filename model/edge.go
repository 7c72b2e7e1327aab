package model

import "time"

// EdgeType is the relationship label between two nodes.
type EdgeType string

const (
	EdgeTypeHasParent EdgeType = "has_parent" // document -> parent chunk
	EdgeTypeHasChild  EdgeType = "has_child"  // parent chunk -> child chunk
	EdgeTypeHasChunk  EdgeType = "has_chunk"  // document -> flat chunk
)

// Edge is a directed relationship. The source is a document or a chunk,
// the target always a chunk.
type Edge struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	EdgeType  EdgeType  `json:"edge_type"`
	CreatedAt time.Time `json:"created_at"`
}
