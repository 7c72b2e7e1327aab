package pipeline

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/parentrag/helper"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultEmbeddingModel produces 384-dimensional sentence embeddings
const DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L12-v2"

// DefaultEmbeddingOnnxFile is the full precision export of
// DefaultEmbeddingModel. The repository also ships optimized and quantized
// variants, so the file has to be named.
const DefaultEmbeddingOnnxFile = "onnx/model.onnx"

var prepareModel = helper.PrepareModel

// HugotEmbedder runs a sentence transformer locally with the hugot Go backend.
type HugotEmbedder struct {
	mu      sync.Mutex
	session *hugot.Session
	run     func(texts []string) ([][]float32, error)
}

// NewHugotEmbedder downloads modelName if needed and starts a session.
// onnxFilePath selects the export inside the model repository and may be
// empty for repositories with a single .onnx file. An empty modelName uses
// DefaultEmbeddingModel with DefaultEmbeddingOnnxFile unless onnxFilePath
// is set. Close releases the session.
func NewHugotEmbedder(modelName string, onnxFilePath string) (*HugotEmbedder, error) {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	if modelName == DefaultEmbeddingModel && onnxFilePath == "" {
		onnxFilePath = DefaultEmbeddingOnnxFile
	}

	modelPath, err := prepareModel(modelName, onnxFilePath)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "prepare model", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "create hugot session", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	if onnxFilePath != "" {
		config.OnnxFilename = path.Base(onnxFilePath)
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, helper.NewKindError(helper.ErrEmbeddingService, "create sentence pipeline", fmt.Errorf("%w (cleanup error: %v)", err, destroyErr))
		}
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "create sentence pipeline", err)
	}

	return &HugotEmbedder{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := sentencePipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}, nil
}

// Embed generates one embedding per text. The session is not safe for
// concurrent use, so calls are serialized.
func (e *HugotEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	embeddings, err := e.run(texts)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "run pipeline", err)
	}
	if len(embeddings) != len(texts) {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "run pipeline", fmt.Errorf("got %d embeddings for %d texts", len(embeddings), len(texts)))
	}
	return embeddings, nil
}

// Close destroys the hugot session
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}

// OpenAIEmbedder embeds through the OpenAI embeddings API. The client reads
// OPENAI_API_KEY; opts may select another embedding model.
func OpenAIEmbedder(opts ...openai.Option) (EmbedFunc, error) {
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "create openai client", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrEmbeddingService, "create embedder", err)
	}

	return LangchainEmbedder(embedder), nil
}

// LangchainEmbedder adapts any langchaingo embedder.
func LangchainEmbedder(embedder embeddings.Embedder) EmbedFunc {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		if len(texts) == 0 {
			return [][]float32{}, nil
		}
		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed documents", err)
		}
		if len(vectors) != len(texts) {
			return nil, helper.NewKindError(helper.ErrEmbeddingService, "embed documents", fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts)))
		}
		return vectors, nil
	}
}

// EmbeddingDimension embeds a probe text and returns the vector length.
func EmbeddingDimension(ctx context.Context, embedder Embedder) (int, error) {
	vectors, err := embedder.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return 0, helper.NewKindError(helper.ErrEmbeddingService, "probe dimension", fmt.Errorf("embedder returned no vector"))
	}
	return len(vectors[0]), nil
}
