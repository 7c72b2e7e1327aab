package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

const fullTextIndexName = "idx_chunks_content_fts"

// VectorIndexName returns the name of the partial vector index over chunks of kind.
func VectorIndexName(kind model.ChunkKind) string {
	return fmt.Sprintf("idx_chunks_embedding_%s", kind)
}

// CreateVectorIndex creates an HNSW cosine index over the embeddings of one
// chunk kind. An existing index is reported as helper.ErrIndexAlreadyExists.
func (h *ChunksDBHandler) CreateVectorIndex(ctx context.Context, kind model.ChunkKind) error {
	if err := validateKind(kind); err != nil {
		return err
	}

	query := fmt.Sprintf(
		`CREATE INDEX %s ON chunks USING hnsw (embedding vector_cosine_ops) WHERE kind = '%s';`,
		VectorIndexName(kind), kind,
	)
	return h.createIndex(ctx, query, VectorIndexName(kind))
}

// EnsureVectorIndex creates the vector index of kind if it is absent.
func (h *ChunksDBHandler) EnsureVectorIndex(ctx context.Context, kind model.ChunkKind) error {
	err := h.CreateVectorIndex(ctx, kind)
	if errors.Is(err, helper.ErrIndexAlreadyExists) {
		return nil
	}
	return err
}

// EnsureFullTextIndex creates the English full-text index over chunk content
// if it is absent.
func (h *ChunksDBHandler) EnsureFullTextIndex(ctx context.Context) error {
	query := fmt.Sprintf(
		`CREATE INDEX %s ON chunks USING gin (to_tsvector('english', content));`,
		fullTextIndexName,
	)
	err := h.createIndex(ctx, query, fullTextIndexName)
	if errors.Is(err, helper.ErrIndexAlreadyExists) {
		return nil
	}
	return err
}

func (h *ChunksDBHandler) createIndex(ctx context.Context, query string, name string) error {
	_, err := h.db.Instance.ExecContext(ctx, query)
	if err != nil {
		// 42P07 duplicate_table, 23505 when a concurrent CREATE INDEX won the race
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == "42P07" || pqErr.Code == "23505") {
			return helper.NewKindError(helper.ErrIndexAlreadyExists, "create index "+name, err)
		}
		return helper.NewKindError(helper.ErrPersistence, "create index "+name, err)
	}

	h.db.Logger.Info("Created index", "name", name)
	return nil
}

// ChangeIndexType replaces the vector index of one chunk kind.
// indexType: "hnsw" or "ivfflat"
// params: optional parameters for index creation
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, kind model.ChunkKind, indexType string, params map[string]int) error {
	if err := validateKind(kind); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	name := VectorIndexName(kind)

	var with string
	switch indexType {
	case "hnsw":
		m := 16
		efConstruction := 64
		if v, ok := params["m"]; ok {
			m = v
		}
		if v, ok := params["ef_construction"]; ok {
			efConstruction = v
		}
		with = fmt.Sprintf("m = %d, ef_construction = %d", m, efConstruction)
	case "ivfflat":
		lists := 100
		if v, ok := params["lists"]; ok {
			lists = v
		}
		with = fmt.Sprintf("lists = %d", lists)
	default:
		return helper.NewKindError(helper.ErrInvalidArgument, "change index type", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	_, err := h.db.Instance.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, name))
	if err != nil {
		return helper.NewKindError(helper.ErrPersistence, "drop index", err)
	}

	h.db.Logger.Info("Dropped existing vector index", "name", name)

	_, err = h.db.Instance.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX %s ON chunks USING %s (embedding vector_cosine_ops) WITH (%s) WHERE kind = '%s';`,
		name, indexType, with, kind,
	))
	if err != nil {
		return helper.NewKindError(helper.ErrPersistence, "create index", err)
	}

	h.db.Logger.Info("Changed vector index", "name", name, "type", indexType, "params", with)

	return nil
}

// IndexExists reports whether an index with the given name exists
func (h *ChunksDBHandler) IndexExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE tablename = 'chunks' AND indexname = $1);`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return exists, nil
}

// Kinds are interpolated into DDL, so only the known ones pass.
func validateKind(kind model.ChunkKind) error {
	switch kind {
	case model.ChunkKindParent, model.ChunkKindChild, model.ChunkKindFlat:
		return nil
	default:
		return helper.NewKindError(helper.ErrInvalidArgument, "validate chunk kind", fmt.Errorf("unknown chunk kind %q", kind))
	}
}
