package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/siherrmann/parentrag/helper"
	"github.com/siherrmann/parentrag/model"
)

// ExtractPDF returns the title from the PDF info dictionary (nil if unset)
// and the plain text of all pages. Pages are joined by a newline; pages
// without readable text are skipped.
func ExtractPDF(path string) (title *string, text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			title, text = nil, ""
			err = helper.NewKindError(helper.ErrExtraction, "read pdf", fmt.Errorf("%s: %v", path, r))
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, "", helper.NewKindError(helper.ErrExtraction, "open pdf", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(pageText)
	}

	if t := strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text()); t != "" {
		title = &t
	}

	return title, b.String(), nil
}

// DocumentFromPDF extracts path into a document. The document id and title
// are the PDF title, falling back to the file name without extension.
func DocumentFromPDF(path string) (*model.Document, error) {
	title, text, err := ExtractPDF(path)
	if err != nil {
		return nil, err
	}

	id := model.TitleFromPath(path)
	if title != nil {
		id = *title
	}

	return &model.Document{
		ID:       id,
		Title:    id,
		Source:   filepath.Base(path),
		Content:  text,
		Metadata: model.Metadata{"format": "pdf"},
	}, nil
}
