package model

import (
	"os"
	"path/filepath"
	"time"
)

// Document is the root node of an ingested file. ID is the stable document
// identifier that all chunk identifiers are derived from.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content,omitempty" db:"-"` // Extracted text, not stored in DB
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocumentFromFile reads a plain text file and creates a Document with the file content.
// ID and title default to the filename without extension, source to the file path.
func NewDocumentFromFile(filePath string, metadata Metadata) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:       TitleFromPath(filePath),
		Title:    TitleFromPath(filePath),
		Source:   filePath,
		Content:  string(content),
		Metadata: metadata,
	}, nil
}

// TitleFromPath returns the file name without its last extension.
func TitleFromPath(filePath string) string {
	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}
	return title
}
