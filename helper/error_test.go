package helper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	t.Run("Wraps error with caller and trace", func(t *testing.T) {
		base := errors.New("connection refused")
		err := NewError("ping", base)

		assert.ErrorIs(t, err, base)
		assert.Contains(t, err.Error(), "helper.TestNewError")
		assert.Contains(t, err.Error(), "ping: connection refused")
	})
}

func TestNewKindError(t *testing.T) {
	t.Run("Adds kind to unclassified error", func(t *testing.T) {
		err := NewKindError(ErrPersistence, "upsert", errors.New("broken pipe"))

		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, "persistence", Kind(err))
	})

	t.Run("Does not add kind twice", func(t *testing.T) {
		inner := fmt.Errorf("%w: dial tcp", ErrPersistence)
		err := NewKindError(ErrPersistence, "upsert", inner)

		assert.Equal(t, 1, countOccurrences(err.Error(), ErrPersistence.Error()))
	})

	t.Run("Nil error becomes the kind itself", func(t *testing.T) {
		err := NewKindError(ErrEmbeddingService, "embed", nil)

		assert.ErrorIs(t, err, ErrEmbeddingService)
	})
}

func TestKind(t *testing.T) {
	t.Run("Nil error has no kind", func(t *testing.T) {
		assert.Equal(t, "", Kind(nil))
	})

	t.Run("Unclassified error", func(t *testing.T) {
		assert.Equal(t, "unknown", Kind(errors.New("boom")))
	})

	t.Run("Timeout wins over service kind", func(t *testing.T) {
		err := fmt.Errorf("%w: %w", ErrEmbeddingService, ErrTimeout)
		assert.Equal(t, "timeout", Kind(err))
	})

	t.Run("All kinds are named", func(t *testing.T) {
		for _, k := range kinds {
			assert.Equal(t, k.name, Kind(fmt.Errorf("wrapped: %w", k.err)))
		}
	})
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("%w: k", ErrInvalidArgument)))
	assert.True(t, IsPermanent(ErrDimensionMismatch))
	assert.True(t, IsPermanent(NewKindError(ErrPersistence, "upsert", ErrIDConflict)))
	assert.False(t, IsPermanent(ErrEmbeddingService))
	assert.False(t, IsPermanent(ErrTimeout))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
