package generation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// Retriever returns the texts most relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Answerer answers questions from retrieved documents.
type Answerer struct {
	completer Completer
	retriever Retriever
	config    model.CompletionConfig
	logger    *slog.Logger
	output    io.Writer
}

// NewAnswerer creates a new answerer. A nil logger uses slog.Default().
func NewAnswerer(completer Completer, retriever Retriever, config model.CompletionConfig, logger *slog.Logger) (*Answerer, error) {
	if completer == nil || retriever == nil {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate collaborators", fmt.Errorf("completer and retriever are required"))
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Answerer{
		completer: completer,
		retriever: retriever,
		config:    config,
		logger:    logger,
	}, nil
}

// SetOutput sets where streamed answer fragments are written.
// Only used if the config enables streaming.
func (a *Answerer) SetOutput(w io.Writer) {
	a.output = w
}

func (a *Answerer) options() CompletionOptions {
	return CompletionOptions{Model: a.config.Model, Temperature: a.config.Temperature}
}

// StepBack paraphrases question into a more generic question.
func (a *Answerer) StepBack(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", helper.NewKindError(helper.ErrInvalidArgument, "validate question", fmt.Errorf("question is empty"))
	}

	stepBack, err := a.completer.Complete(ctx, StepBackMessages(question), a.options())
	if err != nil {
		return "", helper.NewError("step back", err)
	}

	stepBack = strings.TrimSpace(stepBack)
	if stepBack == "" {
		return question, nil
	}
	return stepBack, nil
}

// Answer answers question using only documents.
func (a *Answerer) Answer(ctx context.Context, question string, documents []string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", helper.NewKindError(helper.ErrInvalidArgument, "validate question", fmt.Errorf("question is empty"))
	}

	messages := AnswerMessages(question, documents)
	if !a.config.Stream {
		answer, err := a.completer.Complete(ctx, messages, a.options())
		if err != nil {
			return "", helper.NewError("answer", err)
		}
		return answer, nil
	}

	answer, err := a.completer.Stream(ctx, messages, a.options(), func(fragment string) error {
		if a.output == nil {
			return nil
		}
		_, err := io.WriteString(a.output, fragment)
		return err
	})
	if err != nil {
		return "", helper.NewError("stream answer", err)
	}
	return answer, nil
}

// Ask runs step-back prompting (if enabled), retrieves the k most relevant
// documents for the resulting question and answers the original question.
// Failures are reported in the result instead of an error.
func (a *Answerer) Ask(ctx context.Context, question string, k int) *model.AnswerResult {
	result := &model.AnswerResult{Question: question}

	query := question
	if a.config.StepBack {
		stepBack, err := a.StepBack(ctx, question)
		if err != nil {
			return a.fail(result, err)
		}
		result.StepBackQuestion = stepBack
		query = stepBack
		a.logger.Info("Generated step-back question", "step_back_question", stepBack)
	}

	documents, err := a.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return a.fail(result, err)
	}
	result.Documents = documents

	answer, err := a.Answer(ctx, question, documents)
	if err != nil {
		return a.fail(result, err)
	}

	result.OK = true
	result.Answer = answer
	a.logger.Info("Answered question", "documents", len(documents))

	return result
}

func (a *Answerer) fail(result *model.AnswerResult, err error) *model.AnswerResult {
	result.OK = false
	result.ErrorKind = helper.Kind(err)
	result.Error = err.Error()
	a.logger.Error("Failed to answer question", "kind", result.ErrorKind, "error", err)
	return result
}
