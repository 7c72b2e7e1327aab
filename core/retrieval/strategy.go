package retrieval

import (
	"context"
	"fmt"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// Strategy defines a retrieval strategy
type Strategy interface {
	Retrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error)
}

// ParentStrategy searches child chunks and returns their parents
type ParentStrategy struct {
	engine *Engine
}

// NewParentStrategy creates a new parent strategy
func NewParentStrategy(engine *Engine) *ParentStrategy {
	return &ParentStrategy{engine: engine}
}

// Retrieve performs parent retrieval
func (s *ParentStrategy) Retrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	return s.engine.RetrieveParents(ctx, query, k)
}

// VectorOnlyStrategy performs pure vector similarity search over flat chunks
type VectorOnlyStrategy struct {
	engine *Engine
}

// NewVectorOnlyStrategy creates a new vector-only strategy
func NewVectorOnlyStrategy(engine *Engine) *VectorOnlyStrategy {
	return &VectorOnlyStrategy{engine: engine}
}

// Retrieve performs vector-only retrieval
func (s *VectorOnlyStrategy) Retrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	return s.engine.VectorRetrieve(ctx, query, k)
}

// KeywordOnlyStrategy performs full-text search over flat chunks
type KeywordOnlyStrategy struct {
	engine *Engine
}

// NewKeywordOnlyStrategy creates a new keyword-only strategy
func NewKeywordOnlyStrategy(engine *Engine) *KeywordOnlyStrategy {
	return &KeywordOnlyStrategy{engine: engine}
}

// Retrieve performs keyword-only retrieval
func (s *KeywordOnlyStrategy) Retrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	return s.engine.KeywordRetrieve(ctx, query, k)
}

// HybridStrategy combines vector and keyword search over flat chunks
type HybridStrategy struct {
	engine *Engine
}

// NewHybridStrategy creates a new hybrid strategy
func NewHybridStrategy(engine *Engine) *HybridStrategy {
	return &HybridStrategy{engine: engine}
}

// Retrieve performs hybrid retrieval
func (s *HybridStrategy) Retrieve(ctx context.Context, query string, k int) ([]*model.RetrievalResult, error) {
	return s.engine.HybridRetrieve(ctx, query, k)
}

// NewStrategy returns the strategy for method.
func NewStrategy(engine *Engine, method model.RetrievalMethod) (Strategy, error) {
	switch method {
	case model.RetrievalMethodParent:
		return NewParentStrategy(engine), nil
	case model.RetrievalMethodVector:
		return NewVectorOnlyStrategy(engine), nil
	case model.RetrievalMethodKeyword:
		return NewKeywordOnlyStrategy(engine), nil
	case model.RetrievalMethodHybrid:
		return NewHybridStrategy(engine), nil
	default:
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "select strategy", fmt.Errorf("unknown retrieval method %q", method))
	}
}
