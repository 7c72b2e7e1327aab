package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed documents.sql
var documentsSQL string

//go:embed chunks.sql
var chunksSQL string

//go:embed edges.sql
var edgesSQL string

// Function lists for verification
var DocumentsFunctions = []string{
	"init_documents",
	"upsert_document",
	"select_document",
	"select_all_documents",
	"search_documents",
	"delete_document",
}

var ChunksFunctions = []string{
	"init_chunks",
	"select_embedding_dimension",
	"upsert_chunk",
	"select_chunk",
	"select_chunks_by_document",
	"select_chunks_by_similarity",
	"select_chunks_by_keyword",
	"count_chunks",
	"delete_chunk",
}

var EdgesFunctions = []string{
	"init_edges",
	"upsert_edge",
	"select_edges_from_node",
	"select_edges_to_chunk",
	"select_parents_of_children",
	"count_edges_by_document",
	"delete_edge",
}

// Init creates the vector extension if it does not exist yet
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}
	return nil
}

// LoadDocumentsSql loads document-related SQL functions
func LoadDocumentsSql(db *sql.DB, force bool) error {
	return load(db, "documents", documentsSQL, DocumentsFunctions, force)
}

// LoadChunksSql loads chunk-related SQL functions.
// It expects the vector extension from Init.
func LoadChunksSql(db *sql.DB, force bool) error {
	return load(db, "chunks", chunksSQL, ChunksFunctions, force)
}

// LoadEdgesSql loads edge-related SQL functions
func LoadEdgesSql(db *sql.DB, force bool) error {
	return load(db, "edges", edgesSQL, EdgesFunctions, force)
}

// LoadAllSql loads all SQL functions in dependency order
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadDocumentsSql(db, force); err != nil {
		return err
	}

	if err := LoadChunksSql(db, force); err != nil {
		return err
	}

	return LoadEdgesSql(db, force)
}

func load(db *sql.DB, name string, script string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(script)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required %s SQL functions were created", name)
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database.
// An empty list reports false.
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
