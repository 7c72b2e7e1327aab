package database

import (
	"context"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

const testDimension = 8

var dbPort string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

func initDB(t *testing.T) *helper.Database {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	database := helper.NewTestDatabase(dbConfig)
	t.Cleanup(func() { database.Close() })

	return database
}

func initGraphStore(t *testing.T) *GraphStore {
	store, err := NewGraphStore(initDB(t), testDimension, true)
	require.NoError(t, err, "Expected NewGraphStore to not return an error")
	return store
}

// newTestDocument upserts a document with a unique ID.
func newTestDocument(t *testing.T, store *GraphStore) *model.Document {
	doc := &model.Document{
		ID:       "doc-" + uuid.NewString(),
		Title:    "Test Document",
		Source:   "test_source.pdf",
		Metadata: model.Metadata{"author": "Test Author"},
	}
	require.NoError(t, store.UpsertDocument(context.Background(), doc))
	return doc
}

// axisEmbedding is a unit vector along axis i, so cosine similarity between
// two of them is 1 for the same axis and 0 otherwise.
func axisEmbedding(i int) []float32 {
	embedding := make([]float32, testDimension)
	embedding[i%testDimension] = 1
	return embedding
}
