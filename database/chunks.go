package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	loadSql "github.com/siherrmann/parentrag/sql"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	UpsertChunk(ctx context.Context, chunk *model.Chunk) error
	DeleteChunk(ctx context.Context, id string) (bool, error)
	SelectChunk(ctx context.Context, id string) (*model.Chunk, error)
	SelectChunksByDocument(ctx context.Context, documentID string, kind model.ChunkKind) ([]*model.Chunk, error)
	SelectChunksBySimilarity(ctx context.Context, embedding []float32, kind model.ChunkKind, limit int, documentIDs []string) ([]*model.Chunk, error)
	SelectChunksByKeyword(ctx context.Context, query string, kind model.ChunkKind, limit int, documentIDs []string) ([]*model.Chunk, error)
	CountChunks(ctx context.Context, documentID string, kind model.ChunkKind) (int, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db        *helper.Database
	dimension int
}

// NewChunksDBHandler creates a new chunks database handler.
// The documents table must exist; the vector extension is created if
// missing. The embedding column is created with
// embeddingDim dimensions; an existing table with another dimension is an
// ErrDimensionMismatch.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:        db,
		dimension: embeddingDim,
	}

	err := loadSql.Init(chunksDbHandler.db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize vector extension", err)
	}

	err = loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler", "dimension", embeddingDim)

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table if it does not exist yet and checks
// the dimension of its embedding column.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	var existing int
	err = h.db.Instance.QueryRowContext(ctx, `SELECT select_embedding_dimension();`).Scan(&existing)
	if err != nil {
		return helper.NewError("select embedding dimension", err)
	}
	if existing != embeddingDim {
		return fmt.Errorf("%w: chunks table stores %d dimensions, configured %d", helper.ErrDimensionMismatch, existing, embeddingDim)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// Dimension returns the embedding dimension of the chunks table.
func (h *ChunksDBHandler) Dimension() int {
	return h.dimension
}

// UpsertChunk creates or replaces a chunk by its ID. An ID stored for
// another document or kind is left untouched and reported as
// helper.ErrIDConflict.
func (h *ChunksDBHandler) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	return upsertChunk(ctx, h.db.Instance, chunk)
}

func upsertChunk(ctx context.Context, q querier, chunk *model.Chunk) error {
	var embedding any
	if len(chunk.Embedding) > 0 {
		embedding = pgvector.NewVector(chunk.Embedding)
	}

	row := q.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_chunk($1, $2, $3, $4, $5, $6, $7, $8)`,
		chunk.ID,
		chunk.DocumentID,
		string(chunk.Kind),
		chunk.ChunkIndex,
		chunk.ParentIndex,
		chunk.Content,
		embedding,
		chunk.Metadata,
	)

	err := scanChunk(row, chunk)
	if errors.Is(err, sql.ErrNoRows) {
		// The id exists with another document or kind, the update was skipped.
		return helper.NewKindError(helper.ErrIDConflict, "upsert chunk "+chunk.ID, fmt.Errorf("chunk %s is stored for another document or kind", chunk.ID))
	}
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// DeleteChunk deletes a chunk and the edges touching it.
// It reports whether the chunk existed.
func (h *ChunksDBHandler) DeleteChunk(ctx context.Context, id string) (bool, error) {
	var deleted int64
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT delete_chunk($1)`,
		id,
	).Scan(&deleted)
	if err != nil {
		return false, helper.NewError("exec", err)
	}
	return deleted > 0, nil
}

// SelectChunk retrieves a chunk by ID
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, id string) (*model.Chunk, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	chunk := &model.Chunk{}
	err := scanChunk(row, chunk)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves the chunks of a document ordered by kind
// and position. An empty kind selects every kind.
func (h *ChunksDBHandler) SelectChunksByDocument(ctx context.Context, documentID string, kind model.ChunkKind) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_document($1, $2)`,
		documentID,
		nullKind(kind),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		if err := scanChunk(rows, chunk); err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectChunksBySimilarity performs a cosine similarity search over chunks
// of one kind. Similarity is set to 1 - cosine distance.
// If documentIDs is empty, searches across all documents.
func (h *ChunksDBHandler) SelectChunksBySimilarity(ctx context.Context, embedding []float32, kind model.ChunkKind, limit int, documentIDs []string) ([]*model.Chunk, error) {
	return h.selectScored(
		ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4)`,
		pgvector.NewVector(embedding),
		string(kind),
		limit,
		pq.Array(documentIDs),
	)
}

// SelectChunksByKeyword performs an English full-text search over chunks of
// one kind. Similarity is set to the ts_rank of the match.
func (h *ChunksDBHandler) SelectChunksByKeyword(ctx context.Context, query string, kind model.ChunkKind, limit int, documentIDs []string) ([]*model.Chunk, error) {
	return h.selectScored(
		ctx,
		`SELECT * FROM select_chunks_by_keyword($1, $2, $3, $4)`,
		query,
		string(kind),
		limit,
		pq.Array(documentIDs),
	)
}

func (h *ChunksDBHandler) selectScored(ctx context.Context, query string, args ...any) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var results []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		if err := scanChunk(rows, chunk, &chunk.Similarity); err != nil {
			return nil, helper.NewError("scan", err)
		}
		results = append(results, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return results, nil
}

// CountChunks counts chunks of a document. Empty documentID or kind match all.
func (h *ChunksDBHandler) CountChunks(ctx context.Context, documentID string, kind model.ChunkKind) (int, error) {
	var documentParam any
	if documentID != "" {
		documentParam = documentID
	}

	var count int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT count_chunks($1, $2)`,
		documentParam,
		nullKind(kind),
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// scanChunk scans the common chunk columns followed by extra.
func scanChunk(row scanner, chunk *model.Chunk, extra ...any) error {
	var kind string
	var embedding *pgvector.Vector

	dest := []any{
		&chunk.ID,
		&chunk.DocumentID,
		&kind,
		&chunk.ChunkIndex,
		&chunk.ParentIndex,
		&chunk.Content,
		&embedding,
		&chunk.Metadata,
		&chunk.CreatedAt,
		&chunk.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return err
	}

	chunk.Kind = model.ChunkKind(kind)
	chunk.Embedding = nil
	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}
	return nil
}

func nullKind(kind model.ChunkKind) any {
	if kind == "" {
		return nil
	}
	return string(kind)
}
