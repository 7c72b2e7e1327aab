package model

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/siherrmann/parentrag/helper"
)

// ChunkingConfig is one chunker window.
type ChunkingConfig struct {
	Size           int  `json:"size"`
	Overlap        int  `json:"overlap"`
	WhitespaceOnly bool `json:"whitespace_only"`
}

// Validate checks size > 0 and 0 <= overlap < size.
func (c ChunkingConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", helper.ErrInvalidArgument, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", helper.ErrInvalidArgument, c.Size, c.Overlap)
	}
	return nil
}

// IndexConfig represents configuration for ingesting documents
type IndexConfig struct {
	Parent ChunkingConfig `json:"parent"`
	Child  ChunkingConfig `json:"child"`
	Flat   ChunkingConfig `json:"flat"`

	// Parents with fewer tokens are never persisted
	MinParentTokens int    `json:"min_parent_tokens"`
	TokenizerModel  string `json:"tokenizer_model"`

	// Number of parents embedded and written at the same time
	Concurrency int `json:"concurrency"`

	EmbeddingTimeout time.Duration      `json:"embedding_timeout"`
	StoreTimeout     time.Duration      `json:"store_timeout"`
	Retry            helper.RetryPolicy `json:"retry"`
}

// DefaultIndexConfig returns the parent 2000/40, child 500/20 setup
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Parent:           ChunkingConfig{Size: 2000, Overlap: 40, WhitespaceOnly: true},
		Child:            ChunkingConfig{Size: 500, Overlap: 20, WhitespaceOnly: true},
		Flat:             ChunkingConfig{Size: 500, Overlap: 40, WhitespaceOnly: true},
		MinParentTokens:  40,
		TokenizerModel:   "gpt-4",
		Concurrency:      1,
		EmbeddingTimeout: 60 * time.Second,
		StoreTimeout:     30 * time.Second,
		Retry:            helper.DefaultRetryPolicy(),
	}
}

// Validate checks all chunking windows and the retry policy.
func (c IndexConfig) Validate() error {
	for name, cc := range map[string]ChunkingConfig{"parent": c.Parent, "child": c.Child, "flat": c.Flat} {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("%s chunking: %w", name, err)
		}
	}
	if c.MinParentTokens < 0 {
		return fmt.Errorf("%w: min parent tokens must not be negative", helper.ErrInvalidArgument)
	}
	return c.Retry.Validate()
}

// NewIndexConfigFromEnv returns DefaultIndexConfig overridden by RAG_* variables.
func NewIndexConfigFromEnv() (IndexConfig, error) {
	c := DefaultIndexConfig()

	var err error
	set := func(key string, target *int) {
		if err != nil {
			return
		}
		*target, err = envInt(key, *target)
	}
	set("RAG_PARENT_CHUNK_SIZE", &c.Parent.Size)
	set("RAG_PARENT_CHUNK_OVERLAP", &c.Parent.Overlap)
	set("RAG_CHILD_CHUNK_SIZE", &c.Child.Size)
	set("RAG_CHILD_CHUNK_OVERLAP", &c.Child.Overlap)
	set("RAG_FLAT_CHUNK_SIZE", &c.Flat.Size)
	set("RAG_FLAT_CHUNK_OVERLAP", &c.Flat.Overlap)
	set("RAG_MIN_PARENT_TOKENS", &c.MinParentTokens)
	set("RAG_CONCURRENCY", &c.Concurrency)
	if err != nil {
		return c, err
	}

	if v := os.Getenv("RAG_TOKENIZER_MODEL"); v != "" {
		c.TokenizerModel = v
	}
	if v := os.Getenv("RAG_RETRY_MODE"); v != "" {
		c.Retry.Mode = helper.RetryMode(v)
	}
	if c.EmbeddingTimeout, err = envDuration("RAG_EMBEDDING_TIMEOUT", c.EmbeddingTimeout); err != nil {
		return c, err
	}
	if c.StoreTimeout, err = envDuration("RAG_STORE_TIMEOUT", c.StoreTimeout); err != nil {
		return c, err
	}

	return c, c.Validate()
}

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	TopK int `json:"top_k"`

	// Children fetched per requested parent
	OverFetchFactor int `json:"over_fetch_factor"`

	EmbeddingTimeout time.Duration      `json:"embedding_timeout"`
	StoreTimeout     time.Duration      `json:"store_timeout"`
	Retry            helper.RetryPolicy `json:"retry"`
}

// DefaultQueryConfig returns k = 4 with an over-fetch factor of 4
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		TopK:             4,
		OverFetchFactor:  4,
		EmbeddingTimeout: 30 * time.Second,
		StoreTimeout:     30 * time.Second,
		Retry:            helper.DefaultRetryPolicy(),
	}
}

// NewQueryConfigFromEnv returns DefaultQueryConfig overridden by RAG_* variables.
func NewQueryConfigFromEnv() (QueryConfig, error) {
	c := DefaultQueryConfig()

	var err error
	if c.TopK, err = envInt("RAG_TOP_K", c.TopK); err != nil {
		return c, err
	}
	if c.OverFetchFactor, err = envInt("RAG_OVER_FETCH_FACTOR", c.OverFetchFactor); err != nil {
		return c, err
	}
	if v := os.Getenv("RAG_RETRY_MODE"); v != "" {
		c.Retry.Mode = helper.RetryMode(v)
	}
	if c.OverFetchFactor < 1 {
		return c, fmt.Errorf("%w: over-fetch factor must be at least 1", helper.ErrInvalidArgument)
	}

	return c, c.Retry.Validate()
}

// CompletionConfig represents configuration for chat completions
type CompletionConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`

	// Rewrite the question into a step-back question before retrieval
	StepBack bool `json:"step_back"`
	// Stream answer fragments while they are generated
	Stream bool `json:"stream"`

	Timeout time.Duration      `json:"timeout"`
	Retry   helper.RetryPolicy `json:"retry"`
}

// DefaultCompletionConfig returns gpt-4o at temperature 0 with step-back prompting
func DefaultCompletionConfig() CompletionConfig {
	return CompletionConfig{
		Model:       "gpt-4o",
		Temperature: 0,
		StepBack:    true,
		Timeout:     120 * time.Second,
		Retry:       helper.DefaultRetryPolicy(),
	}
}

// NewCompletionConfigFromEnv returns DefaultCompletionConfig overridden by RAG_* variables.
func NewCompletionConfigFromEnv() (CompletionConfig, error) {
	c := DefaultCompletionConfig()

	if v := os.Getenv("RAG_CHAT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("RAG_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 2 {
			return c, fmt.Errorf("%w: RAG_TEMPERATURE=%q must be a number in [0, 2]", helper.ErrInvalidArgument, v)
		}
		c.Temperature = t
	}

	var err error
	if c.StepBack, err = envBool("RAG_STEP_BACK", c.StepBack); err != nil {
		return c, err
	}
	if c.Stream, err = envBool("RAG_STREAM", c.Stream); err != nil {
		return c, err
	}
	if c.Timeout, err = envDuration("RAG_COMPLETION_TIMEOUT", c.Timeout); err != nil {
		return c, err
	}
	if v := os.Getenv("RAG_RETRY_MODE"); v != "" {
		c.Retry.Mode = helper.RetryMode(v)
	}

	return c, c.Retry.Validate()
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not an integer", helper.ErrInvalidArgument, key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not a duration", helper.ErrInvalidArgument, key, v)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not a boolean", helper.ErrInvalidArgument, key, v)
	}
	return b, nil
}
