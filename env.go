package parentrag

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/siherrmann/parentrag/core/pipeline"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderFromEnv selects the embedder named by RAG_EMBEDDER: "hugot" (the
// default) runs RAG_EMBEDDING_MODEL locally with the export named by
// RAG_EMBEDDING_ONNX, "openai" calls the OpenAI embeddings API. The returned
// close function releases the embedder.
func EmbedderFromEnv() (pipeline.Embedder, func() error, error) {
	modelName := os.Getenv("RAG_EMBEDDING_MODEL")

	switch backend := os.Getenv("RAG_EMBEDDER"); backend {
	case "", "hugot":
		embedder, err := pipeline.NewHugotEmbedder(modelName, os.Getenv("RAG_EMBEDDING_ONNX"))
		if err != nil {
			return nil, nil, err
		}
		return embedder, embedder.Close, nil
	case "openai":
		var opts []openai.Option
		if modelName != "" {
			opts = append(opts, openai.WithEmbeddingModel(modelName))
		}
		embedder, err := pipeline.OpenAIEmbedder(opts...)
		if err != nil {
			return nil, nil, err
		}
		return embedder, func() error { return nil }, nil
	default:
		return nil, nil, helper.NewKindError(helper.ErrInvalidArgument, "select embedder", fmt.Errorf("unknown RAG_EMBEDDER %q", backend))
	}
}

// NewRagFromEnv builds a Rag from the DB_* and RAG_* environment variables
// (a .env file is loaded first) with the tiktoken tokenizer and the
// embedder of EmbedderFromEnv.
func NewRagFromEnv(ctx context.Context, logger *slog.Logger) (*Rag, error) {
	dbConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, helper.NewError("database configuration", err)
	}
	indexConfig, err := model.NewIndexConfigFromEnv()
	if err != nil {
		return nil, helper.NewError("index configuration", err)
	}
	queryConfig, err := model.NewQueryConfigFromEnv()
	if err != nil {
		return nil, helper.NewError("query configuration", err)
	}
	completionConfig, err := model.NewCompletionConfigFromEnv()
	if err != nil {
		return nil, helper.NewError("completion configuration", err)
	}

	embedder, closeEmbedder, err := EmbedderFromEnv()
	if err != nil {
		return nil, helper.NewError("create embedder", err)
	}

	rag, err := NewRag(ctx, dbConfig, embedder, pipeline.NewTiktokenTokenizer(), Options{
		Index:      &indexConfig,
		Query:      &queryConfig,
		Completion: &completionConfig,
		Logger:     logger,
	})
	if err != nil {
		closeEmbedder()
		return nil, err
	}
	rag.closers = append(rag.closers, closeEmbedder)

	return rag, nil
}
