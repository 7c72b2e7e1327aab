package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"golang.org/x/sync/errgroup"
)

// Indexer builds the parent/child graph of a document and writes it to a
// GraphWriter.
type Indexer struct {
	store     GraphWriter
	embedder  Embedder
	tokenizer Tokenizer
	detector  BoundaryDetector
	config    model.IndexConfig
	logger    *slog.Logger

	parentChunker ChunkFunc
	childChunker  ChunkFunc
	flatChunker   ChunkFunc
}

// NewIndexer validates config and creates an indexer. A nil logger uses slog.Default().
func NewIndexer(store GraphWriter, embedder Embedder, tokenizer Tokenizer, config model.IndexConfig, logger *slog.Logger) (*Indexer, error) {
	if store == nil || embedder == nil || tokenizer == nil {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate collaborators", fmt.Errorf("store, embedder and tokenizer are required"))
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	parentChunker, err := NewChunker(config.Parent)
	if err != nil {
		return nil, err
	}
	childChunker, err := NewChunker(config.Child)
	if err != nil {
		return nil, err
	}
	flatChunker, err := NewChunker(config.Flat)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		store:         store,
		embedder:      embedder,
		tokenizer:     tokenizer,
		detector:      NewTitleDetector(),
		config:        config,
		logger:        logger,
		parentChunker: parentChunker,
		childChunker:  childChunker,
		flatChunker:   flatChunker,
	}, nil
}

// SetBoundaryDetector replaces the section heading detector
func (ix *Indexer) SetBoundaryDetector(detector BoundaryDetector) {
	if detector != nil {
		ix.detector = detector
	}
}

// IndexDocument indexes text as the document documentID.
func (ix *Indexer) IndexDocument(ctx context.Context, documentID string, text string) (*model.IngestReport, error) {
	return ix.IndexDocumentNode(ctx, &model.Document{ID: documentID, Title: documentID, Content: text})
}

type parentUnit struct {
	index  int
	text   string
	tokens int
}

// IndexDocumentNode splits doc.Content into sections and parent chunks, drops
// parents below the token threshold, and writes every remaining parent with
// its embedded children. A failing parent is recorded in the report and the
// others are still written. An error is returned only if the document node,
// the token counts or the vector index fail, or ctx ends.
func (ix *Indexer) IndexDocumentNode(ctx context.Context, doc *model.Document) (*model.IngestReport, error) {
	started := time.Now()
	if doc == nil || doc.ID == "" {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate document", fmt.Errorf("document id is required"))
	}

	report := &model.IngestReport{RunID: uuid.New(), DocumentID: doc.ID}
	logger := ix.logger.With("run_id", report.RunID.String(), "document_id", doc.ID)

	sections := SplitSections(doc.Content, ix.detector)
	report.Sections = len(sections)

	var parents []string
	for _, section := range sections {
		chunks, err := ix.parentChunker(section)
		if err != nil {
			return report, helper.NewError("chunk section", err)
		}
		parents = append(parents, chunks...)
	}
	report.Parents = len(parents)

	err := ix.writeWithRetry(ctx, func(ctx context.Context) error {
		return ix.store.UpsertDocument(ctx, doc)
	})
	if err != nil {
		return report, helper.NewKindError(helper.ErrPersistence, "upsert document", err)
	}

	var units []parentUnit
	for i, text := range parents {
		tokens, err := ix.tokenizer.CountTokens(text, ix.config.TokenizerModel)
		if err != nil {
			return report, helper.NewKindError(helper.ErrTokenization, "count tokens", err)
		}
		if tokens < ix.config.MinParentTokens {
			report.Skipped = append(report.Skipped, model.SkippedChunk{
				Index:  i,
				Tokens: tokens,
				Reason: fmt.Sprintf("below minimum of %d tokens", ix.config.MinParentTokens),
				Text:   text,
			})
			logger.Warn("Skipped parent chunk", "index", i, "tokens", tokens, "min_tokens", ix.config.MinParentTokens)
			continue
		}
		units = append(units, parentUnit{index: i, text: text, tokens: tokens})
	}

	var mu sync.Mutex
	record := func(unit parentUnit, children int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed = append(report.Failed, model.FailedChunk{
				Index:     unit.index,
				ChunkID:   model.ParentChunkID(doc.ID, unit.index),
				ErrorKind: helper.Kind(err),
				Error:     err.Error(),
			})
			logger.Error("Failed to index parent chunk", "index", unit.index, "kind", helper.Kind(err), "error", err)
			return
		}
		report.Indexed++
		report.Children += children
	}

	g := &errgroup.Group{}
	g.SetLimit(ix.config.Concurrency)
	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			children, err := ix.indexParent(ctx, doc.ID, unit)
			record(unit, children, err)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Index < report.Failed[j].Index })

	if err := ctx.Err(); err != nil {
		return ix.finish(report, started), helper.NewError("index document", err)
	}

	err = ix.writeWithRetry(ctx, func(ctx context.Context) error {
		return ix.store.EnsureVectorIndex(ctx, model.ChunkKindChild)
	})
	if err != nil {
		return ix.finish(report, started), helper.NewKindError(helper.ErrPersistence, "ensure vector index", err)
	}

	ix.finish(report, started)
	logger.Info("Indexed document",
		"sections", report.Sections,
		"parents", report.Parents,
		"indexed", report.Indexed,
		"children", report.Children,
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"elapsed", report.Elapsed.String(),
	)

	return report, nil
}

// indexParent chunks, embeds and writes one parent with its children.
func (ix *Indexer) indexParent(ctx context.Context, documentID string, unit parentUnit) (int, error) {
	texts, err := ix.childChunker(unit.text)
	if err != nil {
		return 0, helper.NewError("chunk parent", err)
	}

	embeddings, err := ix.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	parentIndex := unit.index
	parent := &model.Chunk{
		ID:         model.ParentChunkID(documentID, parentIndex),
		DocumentID: documentID,
		Kind:       model.ChunkKindParent,
		ChunkIndex: parentIndex,
		Content:    unit.text,
		Metadata:   model.Metadata{"tokens": unit.tokens},
	}

	children := make([]*model.Chunk, len(texts))
	for c, text := range texts {
		children[c] = &model.Chunk{
			ID:          model.ChildChunkID(documentID, parentIndex, c),
			DocumentID:  documentID,
			Kind:        model.ChunkKindChild,
			ChunkIndex:  c,
			ParentIndex: &parentIndex,
			Content:     text,
			Embedding:   embeddings[c],
		}
	}

	err = ix.writeWithRetry(ctx, func(ctx context.Context) error {
		return ix.store.UpsertParentWithChildren(ctx, parent, children)
	})
	if err != nil {
		return 0, helper.NewKindError(helper.ErrPersistence, "upsert parent "+parent.ID, err)
	}

	return len(children), nil
}

// IndexFlat indexes text without sections or parents: chunks are embedded in
// one request and written as flat chunk nodes, then the flat vector index and
// the full-text index are ensured. Report fields count flat chunks as parents.
func (ix *Indexer) IndexFlat(ctx context.Context, doc *model.Document) (*model.IngestReport, error) {
	started := time.Now()
	if doc == nil || doc.ID == "" {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate document", fmt.Errorf("document id is required"))
	}

	report := &model.IngestReport{RunID: uuid.New(), DocumentID: doc.ID, Sections: 1}
	logger := ix.logger.With("run_id", report.RunID.String(), "document_id", doc.ID)

	texts, err := ix.flatChunker(doc.Content)
	if err != nil {
		return report, helper.NewError("chunk document", err)
	}
	report.Parents = len(texts)

	err = ix.writeWithRetry(ctx, func(ctx context.Context) error {
		return ix.store.UpsertDocument(ctx, doc)
	})
	if err != nil {
		return report, helper.NewKindError(helper.ErrPersistence, "upsert document", err)
	}

	err = ix.indexFlatChunks(ctx, doc.ID, texts)
	if err != nil {
		report.Failed = append(report.Failed, model.FailedChunk{
			Index:     0,
			ChunkID:   model.FlatChunkID(doc.ID, 0),
			ErrorKind: helper.Kind(err),
			Error:     err.Error(),
		})
		logger.Error("Failed to index flat chunks", "kind", helper.Kind(err), "error", err)
	} else {
		report.Indexed = len(texts)
	}

	for _, ensure := range []func(ctx context.Context) error{
		func(ctx context.Context) error { return ix.store.EnsureVectorIndex(ctx, model.ChunkKindFlat) },
		ix.store.EnsureFullTextIndex,
	} {
		if err := ix.writeWithRetry(ctx, ensure); err != nil {
			return ix.finish(report, started), helper.NewKindError(helper.ErrPersistence, "ensure index", err)
		}
	}

	ix.finish(report, started)
	logger.Info("Indexed flat document", "chunks", report.Parents, "indexed", report.Indexed, "elapsed", report.Elapsed.String())

	return report, nil
}

func (ix *Indexer) indexFlatChunks(ctx context.Context, documentID string, texts []string) error {
	if len(texts) == 0 {
		return nil
	}

	embeddings, err := ix.embed(ctx, texts)
	if err != nil {
		return err
	}

	chunks := make([]*model.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &model.Chunk{
			ID:         model.FlatChunkID(documentID, i),
			DocumentID: documentID,
			Kind:       model.ChunkKindFlat,
			ChunkIndex: i,
			Content:    text,
			Embedding:  embeddings[i],
		}
	}

	err = ix.writeWithRetry(ctx, func(ctx context.Context) error {
		return ix.store.UpsertFlatChunks(ctx, chunks)
	})
	if err != nil {
		return helper.NewKindError(helper.ErrPersistence, "upsert flat chunks", err)
	}
	return nil
}

// embed requests embeddings under the embedding timeout and retry policy and
// checks their count and dimension.
func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var embeddings [][]float32
	err := helper.Retry(ctx, ix.config.Retry, func() error {
		var err error
		embeddings, err = helper.CallWithTimeout(ctx, ix.config.EmbeddingTimeout, func(ctx context.Context) ([][]float32, error) {
			return ix.embedder.Embed(ctx, texts)
		})
		return err
	})
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed", err)
	}

	if len(embeddings) != len(texts) {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed", fmt.Errorf("got %d embeddings for %d texts", len(embeddings), len(texts)))
	}
	dimension := ix.store.EmbeddingDimension()
	for _, e := range embeddings {
		if len(e) != dimension {
			return nil, helper.NewKindError(helper.ErrDimensionMismatch, "embed", fmt.Errorf("embedding has %d dimensions, store %d", len(e), dimension))
		}
	}
	return embeddings, nil
}

func (ix *Indexer) writeWithRetry(ctx context.Context, write func(ctx context.Context) error) error {
	return helper.Retry(ctx, ix.config.Retry, func() error {
		return helper.WithTimeout(ctx, ix.config.StoreTimeout, write)
	})
}

func (ix *Indexer) finish(report *model.IngestReport, started time.Time) *model.IngestReport {
	report.CompletedAt = time.Now()
	report.Elapsed = report.CompletedAt.Sub(started)
	return report
}
