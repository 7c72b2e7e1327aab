package pipeline

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/siherrmann/parentrag/helper"
)

// TiktokenTokenizer counts tokens with the BPE encoding of an OpenAI model.
// Encodings are loaded once per model name.
type TiktokenTokenizer struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenTokenizer creates an empty tokenizer cache
func NewTiktokenTokenizer() *TiktokenTokenizer {
	return &TiktokenTokenizer{encodings: map[string]*tiktoken.Tiktoken{}}
}

// CountTokens returns the number of tokens of text for model.
// Unknown models are a helper.ErrTokenization.
func (t *TiktokenTokenizer) CountTokens(text string, model string) (int, error) {
	encoding, err := t.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) encoding(model string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if encoding, ok := t.encodings[model]; ok {
		return encoding, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, helper.NewKindError(helper.ErrTokenization, "encoding for model", fmt.Errorf("%s: %w", model, err))
	}
	t.encodings[model] = encoding
	return encoding, nil
}
