package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareModel(t *testing.T) {
	originalModelDir := ModelDir
	ModelDir = t.TempDir()
	defer func() {
		ModelDir = originalModelDir
	}()

	t.Run("Return existing model path when model exists", func(t *testing.T) {
		modelPath := filepath.Join(ModelDir, "test_mock-model")
		err := os.MkdirAll(modelPath, 0750)
		require.NoError(t, err, "Expected directory creation to succeed")

		path, err := PrepareModel("test/mock-model", "")
		assert.NoError(t, err, "Expected PrepareModel to not return an error for existing model")
		assert.Equal(t, modelPath, path, "Expected returned path to match existing model path")
	})

	t.Run("Handle model name without slash", func(t *testing.T) {
		expectedPath := filepath.Join(ModelDir, "simple-model")
		err := os.MkdirAll(expectedPath, 0750)
		require.NoError(t, err, "Expected directory creation to succeed")

		path, err := PrepareModel("simple-model", "")
		assert.NoError(t, err, "Expected PrepareModel to not return an error")
		assert.Equal(t, expectedPath, path, "Expected path to use model name directly")
	})

	t.Run("Specify onnx file path for existing model", func(t *testing.T) {
		modelPath := filepath.Join(ModelDir, "sentence-transformers_all-MiniLM-L12-v2")
		err := os.MkdirAll(modelPath, 0750)
		require.NoError(t, err, "Expected directory creation to succeed")

		path, err := PrepareModel("sentence-transformers/all-MiniLM-L12-v2", "onnx/model.onnx")
		assert.NoError(t, err, "Expected PrepareModel with onnx path to not return an error")
		assert.Equal(t, modelPath, path)
	})
}
