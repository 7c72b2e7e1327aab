package parentrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/siherrmann/parentrag/core/extract"
	"github.com/siherrmann/parentrag/core/generation"
	"github.com/siherrmann/parentrag/core/pipeline"
	"github.com/siherrmann/parentrag/core/retrieval"
	"github.com/siherrmann/parentrag/database"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// Options configures a Rag. Zero values are replaced by the defaults of
// their model package constructor.
type Options struct {
	Index      *model.IndexConfig
	Query      *model.QueryConfig
	Completion *model.CompletionConfig
	Logger     *slog.Logger
	// Reload the SQL functions even if they already exist
	Force bool
}

// Rag wires the graph store, the indexer, the retrieval engine and the
// answerer around one database connection.
type Rag struct {
	DB       *helper.Database
	Store    *database.GraphStore
	Indexer  *pipeline.Indexer
	Engine   *retrieval.Engine
	Answerer *generation.Answerer // Set by SetCompleter
	// Logging
	log        *slog.Logger
	completion model.CompletionConfig
	closers    []func() error
}

// NewRag connects to the database and creates the graph store with the
// dimension of embedder. Embedder and tokenizer stay owned by the caller.
func NewRag(ctx context.Context, config *helper.DatabaseConfiguration, embedder pipeline.Embedder, tokenizer pipeline.Tokenizer, opts Options) (*Rag, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{
				Level: slog.LevelInfo,
			},
		}))
	}

	indexConfig := model.DefaultIndexConfig()
	if opts.Index != nil {
		indexConfig = *opts.Index
	}
	queryConfig := model.DefaultQueryConfig()
	if opts.Query != nil {
		queryConfig = *opts.Query
	}
	completionConfig := model.DefaultCompletionConfig()
	if opts.Completion != nil {
		completionConfig = *opts.Completion
	}

	if embedder == nil {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate embedder", fmt.Errorf("embedder is required"))
	}
	dimension, err := pipeline.EmbeddingDimension(ctx, embedder)
	if err != nil {
		return nil, helper.NewError("probe embedding dimension", err)
	}

	db := helper.NewDatabase("parentrag", config, logger)

	store, err := database.NewGraphStore(db, dimension, opts.Force)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create graph store", err)
	}

	indexer, err := pipeline.NewIndexer(store, embedder, tokenizer, indexConfig, logger)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create indexer", err)
	}

	engine, err := retrieval.NewEngine(store, embedder, queryConfig, logger)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create retrieval engine", err)
	}

	logger.Info("Initialized parentrag", slog.Int("embedding_dimension", dimension))

	return &Rag{
		DB:         db,
		Store:      store,
		Indexer:    indexer,
		Engine:     engine,
		log:        logger,
		completion: completionConfig,
	}, nil
}

// Close closes the database connection and the resources NewRagFromEnv
// created.
func (r *Rag) Close() error {
	var errs []error
	for _, closer := range r.closers {
		errs = append(errs, closer())
	}
	errs = append(errs, r.DB.Close())
	return errors.Join(errs...)
}

// SetCompleter enables Ask with completer answering from parent retrieval.
func (r *Rag) SetCompleter(completer generation.Completer) error {
	answerer, err := generation.NewAnswerer(completer, r.Engine, r.completion, r.log)
	if err != nil {
		return helper.NewError("create answerer", err)
	}
	r.Answerer = answerer
	return nil
}

// UseOpenAI sets an OpenAI completer configured by the completion config.
func (r *Rag) UseOpenAI() error {
	completer, err := generation.NewOpenAICompleter(r.completion)
	if err != nil {
		return helper.NewError("create openai completer", err)
	}
	return r.SetCompleter(completer)
}

// IngestDocument indexes doc.Content hierarchically as parents and children.
func (r *Rag) IngestDocument(ctx context.Context, doc *model.Document) (*model.IngestReport, error) {
	return r.Indexer.IndexDocumentNode(ctx, doc)
}

// IngestFlat indexes doc.Content as flat chunks.
func (r *Rag) IngestFlat(ctx context.Context, doc *model.Document) (*model.IngestReport, error) {
	return r.Indexer.IndexFlat(ctx, doc)
}

// IngestPDF extracts the PDF at path and indexes it hierarchically, or flat
// if flat is true.
func (r *Rag) IngestPDF(ctx context.Context, path string, flat bool) (*model.IngestReport, error) {
	doc, err := extract.DocumentFromPDF(path)
	if err != nil {
		return nil, helper.NewError("extract pdf", err)
	}
	r.log.Info("Extracted PDF", slog.String("document_id", doc.ID), slog.Int("characters", len(doc.Content)))

	if flat {
		return r.IngestFlat(ctx, doc)
	}
	return r.IngestDocument(ctx, doc)
}

// Retrieve returns the text of the k most relevant parent chunks.
func (r *Rag) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	return r.Engine.Retrieve(ctx, query, k)
}

// Search retrieves with the strategy of method.
func (r *Rag) Search(ctx context.Context, query string, k int, method model.RetrievalMethod) ([]*model.RetrievalResult, error) {
	strategy, err := retrieval.NewStrategy(r.Engine, method)
	if err != nil {
		return nil, err
	}
	return strategy.Retrieve(ctx, query, k)
}

// Ask answers question from the k most relevant parents. Without a
// completer the result reports an invalid argument.
func (r *Rag) Ask(ctx context.Context, question string, k int) *model.AnswerResult {
	if r.Answerer == nil {
		err := helper.NewKindError(helper.ErrInvalidArgument, "ask", fmt.Errorf("no completer set, use SetCompleter() first"))
		return &model.AnswerResult{Question: question, ErrorKind: helper.Kind(err), Error: err.Error()}
	}
	return r.Answerer.Ask(ctx, question, k)
}

// Stats counts the stored nodes and edges of a document.
func (r *Rag) Stats(ctx context.Context, documentID string) (*model.GraphStats, error) {
	return r.Store.Stats(ctx, documentID)
}

// DeleteDocument removes a document with its chunks and edges.
func (r *Rag) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	return r.Store.DeleteDocument(ctx, documentID)
}
