package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/siherrmann/parentrag/core/pipeline"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// GraphReader is the read side of the graph store used by the Engine.
type GraphReader interface {
	EmbeddingDimension() int
	SearchSimilar(ctx context.Context, embedding []float32, kind model.ChunkKind, limit int) ([]*model.Chunk, error)
	SearchKeyword(ctx context.Context, query string, kind model.ChunkKind, limit int) ([]*model.Chunk, error)
	ParentsOfChildren(ctx context.Context, childIDs []string) (map[string]*model.Chunk, error)
}

// Engine answers retrieval queries against the stored document graph.
type Engine struct {
	store    GraphReader
	embedder pipeline.Embedder
	config   model.QueryConfig
	logger   *slog.Logger
}

// NewEngine creates a new retrieval engine. A nil logger uses slog.Default().
func NewEngine(store GraphReader, embedder pipeline.Embedder, config model.QueryConfig, logger *slog.Logger) (*Engine, error) {
	if store == nil || embedder == nil {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate collaborators", fmt.Errorf("store and embedder are required"))
	}
	if config.OverFetchFactor < 1 {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate config", fmt.Errorf("over-fetch factor must be at least 1, got %d", config.OverFetchFactor))
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// Config returns the query configuration of the engine
func (e *Engine) Config() model.QueryConfig {
	return e.config
}

// RetrieveParents embeds query, searches the k times over-fetch factor most
// similar child chunks and returns the k parents with the best child score,
// most relevant first. Parents with equal scores are ordered by id.
func (e *Engine) RetrieveParents(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}

	embedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	children, err := e.searchSimilar(ctx, embedding, model.ChunkKindChild, k*e.config.OverFetchFactor)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return []*model.RetrievalResult{}, nil
	}

	childIDs := make([]string, len(children))
	for i, child := range children {
		childIDs[i] = child.ID
	}

	parents, err := helper.CallWithTimeout(ctx, e.config.StoreTimeout, func(ctx context.Context) (map[string]*model.Chunk, error) {
		return e.store.ParentsOfChildren(ctx, childIDs)
	})
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "resolve parents", err)
	}

	results := AggregateParents(children, parents, k)
	e.logger.Debug("Retrieved parents", "k", k, "children", len(children), "parents", len(results))

	return results, nil
}

// Retrieve returns the text of the k most relevant parent chunks.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	results, err := e.RetrieveParents(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return Contents(results), nil
}

// VectorRetrieve returns the k flat chunks most similar to query.
func (e *Engine) VectorRetrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}

	embedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := e.searchSimilar(ctx, embedding, model.ChunkKindFlat, k)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievalResult, len(chunks))
	for i, chunk := range chunks {
		results[i] = &model.RetrievalResult{
			Chunk:           chunk,
			Score:           chunk.Similarity,
			SimilarityScore: chunk.Similarity,
			RetrievalMethod: model.RetrievalMethodVector,
		}
	}
	return results, nil
}

// KeywordRetrieve returns the k flat chunks ranked highest by full-text search.
func (e *Engine) KeywordRetrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}

	chunks, err := e.searchKeyword(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievalResult, len(chunks))
	for i, chunk := range chunks {
		results[i] = &model.RetrievalResult{
			Chunk:           chunk,
			Score:           chunk.Similarity,
			KeywordScore:    chunk.Similarity,
			RetrievalMethod: model.RetrievalMethodKeyword,
		}
	}
	return results, nil
}

// HybridRetrieve runs a vector and a keyword search over flat chunks, each
// fetching k, and merges both with MergeHybrid.
func (e *Engine) HybridRetrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}

	embedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	vector, err := e.searchSimilar(ctx, embedding, model.ChunkKindFlat, k)
	if err != nil {
		return nil, err
	}

	keyword, err := e.searchKeyword(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := MergeHybrid(vector, keyword, k)
	e.logger.Debug("Retrieved hybrid", "k", k, "vector", len(vector), "keyword", len(keyword), "merged", len(results))

	return results, nil
}

// AggregateParents groups children by the parent they belong to, scores each
// parent with its best child similarity and returns the top k parents.
// Children without a parent are ignored.
func AggregateParents(children []*model.Chunk, parents map[string]*model.Chunk, k int) []*model.RetrievalResult {
	byParent := map[string]*model.RetrievalResult{}
	for _, child := range children {
		parent, ok := parents[child.ID]
		if !ok || parent == nil {
			continue
		}

		result, ok := byParent[parent.ID]
		if !ok {
			result = &model.RetrievalResult{
				Chunk:           parent,
				Score:           child.Similarity,
				SimilarityScore: child.Similarity,
				RetrievalMethod: model.RetrievalMethodParent,
			}
			byParent[parent.ID] = result
		} else if child.Similarity > result.Score {
			result.Score = child.Similarity
			result.SimilarityScore = child.Similarity
		}
		result.MatchedChildren = append(result.MatchedChildren, child.ID)
	}

	results := make([]*model.RetrievalResult, 0, len(byParent))
	for _, result := range byParent {
		results = append(results, result)
	}
	return rank(results, k)
}

// MergeHybrid normalizes the vector and keyword scores by the maximum of
// their own set, unions both sets keeping the higher normalized score per
// chunk and returns the top k. A set whose maximum is not positive keeps its
// raw scores.
func MergeHybrid(vector []*model.Chunk, keyword []*model.Chunk, k int) []*model.RetrievalResult {
	merged := map[string]*model.RetrievalResult{}

	vectorMax := maxSimilarity(vector)
	for _, chunk := range vector {
		score := normalize(chunk.Similarity, vectorMax)
		if result, ok := merged[chunk.ID]; ok {
			result.Score = max(result.Score, score)
			result.SimilarityScore = max(result.SimilarityScore, chunk.Similarity)
			continue
		}
		merged[chunk.ID] = &model.RetrievalResult{
			Chunk:           chunk,
			Score:           score,
			SimilarityScore: chunk.Similarity,
			RetrievalMethod: model.RetrievalMethodHybrid,
		}
	}

	keywordMax := maxSimilarity(keyword)
	for _, chunk := range keyword {
		score := normalize(chunk.Similarity, keywordMax)
		result, ok := merged[chunk.ID]
		if !ok {
			result = &model.RetrievalResult{
				Chunk:           chunk,
				Score:           score,
				RetrievalMethod: model.RetrievalMethodHybrid,
			}
			merged[chunk.ID] = result
		}
		result.Score = max(result.Score, score)
		result.KeywordScore = max(result.KeywordScore, score)
	}

	results := make([]*model.RetrievalResult, 0, len(merged))
	for _, result := range merged {
		results = append(results, result)
	}
	return rank(results, k)
}

// Contents returns the chunk text of each result in order.
func Contents(results []*model.RetrievalResult) []string {
	contents := make([]string, len(results))
	for i, result := range results {
		contents[i] = result.Chunk.Content
	}
	return contents
}

// rank sorts by score descending, ties by chunk id, and truncates to k.
func rank(results []*model.RetrievalResult, k int) []*model.RetrievalResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

func maxSimilarity(chunks []*model.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	m := chunks[0].Similarity
	for _, chunk := range chunks[1:] {
		m = max(m, chunk.Similarity)
	}
	return m
}

func normalize(score float64, maximum float64) float64 {
	if maximum <= 0 {
		return score
	}
	return score / maximum
}

func validateQuery(query string, k int) error {
	if strings.TrimSpace(query) == "" {
		return helper.NewKindError(helper.ErrInvalidArgument, "validate query", fmt.Errorf("query is empty"))
	}
	if k <= 0 {
		return helper.NewKindError(helper.ErrInvalidArgument, "validate query", fmt.Errorf("k must be positive, got %d", k))
	}
	return nil
}

// embedQuery embeds query under the embedding timeout and retry policy.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var embeddings [][]float32
	err := helper.Retry(ctx, e.config.Retry, func() error {
		var err error
		embeddings, err = helper.CallWithTimeout(ctx, e.config.EmbeddingTimeout, func(ctx context.Context) ([][]float32, error) {
			return e.embedder.Embed(ctx, []string{query})
		})
		return err
	})
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed query", err)
	}
	if len(embeddings) != 1 {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed query", fmt.Errorf("got %d embeddings for one query", len(embeddings)))
	}

	if dimension := e.store.EmbeddingDimension(); len(embeddings[0]) != dimension {
		return nil, helper.NewKindError(helper.ErrDimensionMismatch, "embed query", fmt.Errorf("query has %d dimensions, store %d", len(embeddings[0]), dimension))
	}
	return embeddings[0], nil
}

func (e *Engine) searchSimilar(ctx context.Context, embedding []float32, kind model.ChunkKind, limit int) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := helper.Retry(ctx, e.config.Retry, func() error {
		var err error
		chunks, err = helper.CallWithTimeout(ctx, e.config.StoreTimeout, func(ctx context.Context) ([]*model.Chunk, error) {
			return e.store.SearchSimilar(ctx, embedding, kind, limit)
		})
		return err
	})
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "search "+string(kind)+" chunks", err)
	}
	return chunks, nil
}

func (e *Engine) searchKeyword(ctx context.Context, query string, limit int) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := helper.Retry(ctx, e.config.Retry, func() error {
		var err error
		chunks, err = helper.CallWithTimeout(ctx, e.config.StoreTimeout, func(ctx context.Context) ([]*model.Chunk, error) {
			return e.store.SearchKeyword(ctx, query, model.ChunkKindFlat, limit)
		})
		return err
	})
	if err != nil {
		return nil, helper.NewKindError(helper.ErrPersistence, "search keyword", err)
	}
	return chunks, nil
}
