package helper

import (
	"errors"
	"fmt"
	"path"
	"runtime"
)

// Error kinds. Every error leaving a component wraps exactly one of these
// so callers can branch with errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrExtraction         = errors.New("extraction error")
	ErrTokenization       = errors.New("tokenization error")
	ErrEmbeddingService   = errors.New("embedding service error")
	ErrPersistence        = errors.New("persistence error")
	ErrIndexAlreadyExists = errors.New("index already exists")
	ErrCompletionService  = errors.New("completion service error")
	ErrTimeout            = errors.New("timeout")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrIDConflict         = errors.New("id belongs to another node")
)

// kinds is ordered: the first match wins, so timeout is reported before
// the service kind it occurred in.
var kinds = []struct {
	err  error
	name string
}{
	{ErrTimeout, "timeout"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrDimensionMismatch, "dimension_mismatch"},
	{ErrExtraction, "extraction"},
	{ErrTokenization, "tokenization"},
	{ErrEmbeddingService, "embedding_service"},
	{ErrIndexAlreadyExists, "index_already_exists"},
	{ErrIDConflict, "id_conflict"},
	{ErrPersistence, "persistence"},
	{ErrCompletionService, "completion_service"},
}

// NewError wraps err with the name of the calling function and a short
// trace describing the failed step.
func NewError(trace string, err error) error {
	return newError(2, trace, err)
}

// NewKindError wraps err like NewError and additionally marks it with kind,
// unless the chain already carries kind.
func NewKindError(kind error, trace string, err error) error {
	if err == nil {
		err = kind
	} else if !errors.Is(err, kind) {
		err = fmt.Errorf("%w: %w", kind, err)
	}
	return newError(2, trace, err)
}

func newError(skip int, trace string, err error) error {
	caller := "unknown"
	if pc, _, _, ok := runtime.Caller(skip); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = path.Base(fn.Name())
		}
	}
	return fmt.Errorf("%s: %s: %w", caller, trace, err)
}

// Kind returns the name of the first error kind found in the chain of err,
// "unknown" for unclassified errors and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrIDConflict) ||
		errors.Is(err, ErrTokenization)
}
