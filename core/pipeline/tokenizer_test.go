package pipeline

import (
	"testing"

	"github.com/siherrmann/parentrag/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktokenTokenizer(t *testing.T) {
	t.Run("Rejects unknown models", func(t *testing.T) {
		tokenizer := NewTiktokenTokenizer()

		_, err := tokenizer.CountTokens("hello", "no-such-model")
		assert.ErrorIs(t, err, helper.ErrTokenization)
	})

	t.Run("Counts tokens and caches the encoding", func(t *testing.T) {
		if testing.Short() {
			t.Skip("downloads the BPE ranks")
		}
		tokenizer := NewTiktokenTokenizer()

		count, err := tokenizer.CountTokens("hello world", "gpt-4")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		empty, err := tokenizer.CountTokens("", "gpt-4")
		require.NoError(t, err)
		assert.Zero(t, empty)
		assert.Len(t, tokenizer.encodings, 1)
	})
}
