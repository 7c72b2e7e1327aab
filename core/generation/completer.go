package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultChatModel is used when CompletionOptions carry no model
const DefaultChatModel = "gpt-4o"

// CompletionOptions select the model and sampling of one completion.
type CompletionOptions struct {
	Model       string
	Temperature float64
}

// Completer sends a conversation to a chat completion service.
type Completer interface {
	Complete(ctx context.Context, messages []model.Message, opts CompletionOptions) (string, error)
	// Stream calls onFragment for every generated fragment and returns the
	// accumulated text.
	Stream(ctx context.Context, messages []model.Message, opts CompletionOptions, onFragment func(fragment string) error) (string, error)
}

// LangchainCompleter implements Completer on a langchaingo model.
type LangchainCompleter struct {
	llm     llms.Model
	timeout time.Duration
	retry   helper.RetryPolicy
}

// NewCompleter wraps llm. Each request is bounded by timeout (0 disables it)
// and blocking completions are retried according to retry.
func NewCompleter(llm llms.Model, timeout time.Duration, retry helper.RetryPolicy) *LangchainCompleter {
	return &LangchainCompleter{
		llm:     llm,
		timeout: timeout,
		retry:   retry,
	}
}

// NewOpenAICompleter creates a completer on the OpenAI chat API. The client
// reads OPENAI_API_KEY unless opts carry a token.
func NewOpenAICompleter(config model.CompletionConfig, opts ...openai.Option) (*LangchainCompleter, error) {
	llm, err := openai.New(append([]openai.Option{openai.WithModel(config.Model)}, opts...)...)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrCompletionService, "create openai client", err)
	}
	return NewCompleter(llm, config.Timeout, config.Retry), nil
}

// Complete returns the content of the first choice.
func (c *LangchainCompleter) Complete(ctx context.Context, messages []model.Message, opts CompletionOptions) (string, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return "", err
	}

	var answer string
	err = helper.Retry(ctx, c.retry, func() error {
		response, err := helper.CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (*llms.ContentResponse, error) {
			return c.llm.GenerateContent(ctx, content, callOptions(opts)...)
		})
		if err != nil {
			return err
		}
		answer, err = firstChoice(response)
		return err
	})
	if err != nil {
		return "", helper.NewKindError(helper.ErrCompletionService, "generate content", err)
	}

	return answer, nil
}

// Stream is never retried since fragments may already have been handed out.
func (c *LangchainCompleter) Stream(ctx context.Context, messages []model.Message, opts CompletionOptions, onFragment func(fragment string) error) (string, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return "", err
	}

	var answer strings.Builder
	streaming := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		answer.Write(chunk)
		if onFragment != nil {
			return onFragment(string(chunk))
		}
		return nil
	})

	response, err := helper.CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (*llms.ContentResponse, error) {
		return c.llm.GenerateContent(ctx, content, append(callOptions(opts), streaming)...)
	})
	if err != nil {
		return "", helper.NewKindError(helper.ErrCompletionService, "stream content", err)
	}

	// Models without streaming support only fill the response.
	if answer.Len() == 0 {
		text, err := firstChoice(response)
		if err != nil {
			return "", helper.NewKindError(helper.ErrCompletionService, "stream content", err)
		}
		if onFragment != nil {
			if err := onFragment(text); err != nil {
				return "", helper.NewKindError(helper.ErrCompletionService, "stream content", err)
			}
		}
		return text, nil
	}

	return answer.String(), nil
}

func callOptions(opts CompletionOptions) []llms.CallOption {
	name := opts.Model
	if name == "" {
		name = DefaultChatModel
	}
	return []llms.CallOption{
		llms.WithModel(name),
		llms.WithTemperature(opts.Temperature),
	}
}

func toMessageContent(messages []model.Message) ([]llms.MessageContent, error) {
	if len(messages) == 0 {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "convert messages", fmt.Errorf("no messages"))
	}

	content := make([]llms.MessageContent, len(messages))
	for i, message := range messages {
		var role llms.ChatMessageType
		switch message.Role {
		case model.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case model.RoleUser:
			role = llms.ChatMessageTypeHuman
		case model.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			return nil, helper.NewKindError(helper.ErrInvalidArgument, "convert messages", fmt.Errorf("unknown role %q", message.Role))
		}
		content[i] = llms.TextParts(role, message.Content)
	}
	return content, nil
}

func firstChoice(response *llms.ContentResponse) (string, error) {
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return response.Choices[0].Content, nil
}
