package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	t.Run("Short content is kept on one line", func(t *testing.T) {
		assert.Equal(t, "1. Scope text", preview("1. Scope\ntext", 20))
	})

	t.Run("Long content is cut on a rune boundary", func(t *testing.T) {
		content := strings.Repeat("ä", 10)

		got := preview(content, 3)

		assert.Equal(t, "äää...", got)
		assert.True(t, utf8.ValidString(got))
	})

	t.Run("Content of exactly n runes is not cut", func(t *testing.T) {
		assert.Equal(t, "äöü", preview("äöü", 3))
	})
}
