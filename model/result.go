package model

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalResult represents a chunk retrieved by a query
type RetrievalResult struct {
	Chunk           *Chunk          `json:"chunk"`
	Score           float64         `json:"score"`                   // Final ranking score
	SimilarityScore float64         `json:"similarity_score"`        // Cosine similarity (max over children for parents)
	KeywordScore    float64         `json:"keyword_score,omitempty"` // Normalized full-text score (hybrid only)
	MatchedChildren []string        `json:"matched_children,omitempty"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
}

// SkippedChunk is a parent chunk left out of the index.
type SkippedChunk struct {
	Index  int    `json:"index"`
	Tokens int    `json:"tokens"`
	Reason string `json:"reason"`
	Text   string `json:"text"`
}

// FailedChunk is a parent (or flat batch) whose embedding or write failed.
type FailedChunk struct {
	Index     int    `json:"index"`
	ChunkID   string `json:"chunk_id"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

// IngestReport summarizes one ingestion run of a document.
type IngestReport struct {
	RunID       uuid.UUID      `json:"run_id"`
	DocumentID  string         `json:"document_id"`
	Sections    int            `json:"sections"`
	Parents     int            `json:"parents"`
	Indexed     int            `json:"indexed"`
	Children    int            `json:"children"`
	Skipped     []SkippedChunk `json:"skipped,omitempty"`
	Failed      []FailedChunk  `json:"failed,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
	CompletedAt time.Time      `json:"completed_at"`
}

// OK reports whether every retained chunk was written.
func (r *IngestReport) OK() bool {
	return r != nil && len(r.Failed) == 0
}

// AnswerResult is the outcome of answering a question. OK discriminates
// between Answer and the error fields.
type AnswerResult struct {
	OK               bool     `json:"ok"`
	Question         string   `json:"question"`
	StepBackQuestion string   `json:"step_back_question,omitempty"`
	Documents        []string `json:"documents,omitempty"`
	Answer           string   `json:"answer,omitempty"`
	ErrorKind        string   `json:"error_kind,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// GraphStats counts the stored nodes and edges of one document.
type GraphStats struct {
	DocumentID string `json:"document_id"`
	Parents    int    `json:"parents"`
	Children   int    `json:"children"`
	Chunks     int    `json:"chunks"`
	Edges      int    `json:"edges"`
}
