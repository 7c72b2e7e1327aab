package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// ChunkText splits text into overlapping chunks of roughly chunkSize runes.
//
// With whitespaceOnly the window starts at the first whitespace within
// overlap runes before the cursor and ends at the first whitespace at or
// after cursor+chunkSize, so no word is ever cut. Otherwise fixed windows of
// chunkSize runes are extended by overlap on both sides.
//
// Chunks are trimmed and chunks that are empty after trimming are dropped.
func ChunkText(text string, chunkSize int, overlap int, whitespaceOnly bool) ([]string, error) {
	if chunkSize <= 0 {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate chunk size", fmt.Errorf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, helper.NewKindError(helper.ErrInvalidArgument, "validate overlap", fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap))
	}

	runes := []rune(text)
	chunks := []string{}

	for cursor := 0; cursor < len(runes); {
		var start, end int
		if whitespaceOnly {
			start = leftBoundary(runes, cursor, overlap)
			end = rightBoundary(runes, cursor+chunkSize)
		} else {
			start = min(cursor, max(0, cursor-overlap+1))
			end = min(cursor+chunkSize+overlap, len(runes))
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if whitespaceOnly {
			cursor = end + 1
		} else {
			cursor += chunkSize
		}
	}

	return chunks, nil
}

// leftBoundary returns the first whitespace in [cursor-overlap, cursor),
// or cursor if there is none.
func leftBoundary(runes []rune, cursor int, overlap int) int {
	for i := max(0, cursor-overlap); i < cursor; i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return cursor
}

// rightBoundary returns the first whitespace at or after from, or the end
// of the text.
func rightBoundary(runes []rune, from int) int {
	for i := from; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return len(runes)
}

// WhitespaceChunker creates a chunker that never splits inside a word
func WhitespaceChunker(chunkSize int, overlap int) ChunkFunc {
	return func(text string) ([]string, error) {
		return ChunkText(text, chunkSize, overlap, true)
	}
}

// FixedWidthChunker creates a chunker with fixed windows overlapping on both sides
func FixedWidthChunker(chunkSize int, overlap int) ChunkFunc {
	return func(text string) ([]string, error) {
		return ChunkText(text, chunkSize, overlap, false)
	}
}

// NewChunker returns the chunking strategy selected by config.
func NewChunker(config model.ChunkingConfig) (ChunkFunc, error) {
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("validate chunking config", err)
	}
	if config.WhitespaceOnly {
		return WhitespaceChunker(config.Size, config.Overlap), nil
	}
	return FixedWidthChunker(config.Size, config.Overlap), nil
}
