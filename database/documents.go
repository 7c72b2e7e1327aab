package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
	"github.com/siherrmann/parentrag/sql"
)

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
	SelectDocument(ctx context.Context, id string) (*model.Document, error)
	SelectAllDocuments(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.Document, error)
	SelectDocumentsBySearch(ctx context.Context, searchTerm string, limit int) ([]*model.Document, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It loads the document SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := sql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table if it does not exist yet.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		log.Panicf("error initializing documents table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

// UpsertDocument creates the document node or updates title, source and
// metadata of an existing one. Timestamps are read back into doc.
func (h *DocumentsDBHandler) UpsertDocument(ctx context.Context, doc *model.Document) error {
	return upsertDocument(ctx, h.db.Instance, doc)
}

func upsertDocument(ctx context.Context, q querier, doc *model.Document) error {
	row := q.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_document($1, $2, $3, $4)`,
		doc.ID,
		doc.Title,
		doc.Source,
		doc.Metadata,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by ID.
// A missing document yields an error wrapping sql.ErrNoRows.
func (h *DocumentsDBHandler) SelectDocument(ctx context.Context, id string) (*model.Document, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_document($1)`,
		id,
	)

	doc := &model.Document{}
	err := scanDocument(row, doc)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectAllDocuments retrieves documents newest first. Pass the CreatedAt of
// the last document of the previous page to continue, nil for the first page.
func (h *DocumentsDBHandler) SelectAllDocuments(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.Document, error) {
	return h.selectDocuments(ctx, `SELECT * FROM select_all_documents($1, $2)`, lastCreatedAt, limit)
}

// SelectDocumentsBySearch retrieves documents whose title or ID contains searchTerm
func (h *DocumentsDBHandler) SelectDocumentsBySearch(ctx context.Context, searchTerm string, limit int) ([]*model.Document, error) {
	return h.selectDocuments(ctx, `SELECT * FROM search_documents($1, $2)`, searchTerm, limit)
}

func (h *DocumentsDBHandler) selectDocuments(ctx context.Context, query string, args ...any) ([]*model.Document, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var documents []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		if err := scanDocument(rows, doc); err != nil {
			return nil, helper.NewError("scan", err)
		}
		documents = append(documents, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return documents, nil
}

// DeleteDocument deletes a document with all its chunks and edges.
// It reports whether the document existed.
func (h *DocumentsDBHandler) DeleteDocument(ctx context.Context, id string) (bool, error) {
	var deleted int64
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT delete_document($1)`,
		id,
	).Scan(&deleted)
	if err != nil {
		return false, helper.NewError("exec", err)
	}
	return deleted > 0, nil
}

func scanDocument(row scanner, doc *model.Document) error {
	return row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Source,
		&doc.Metadata,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
}
