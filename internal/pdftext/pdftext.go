// Package pdftext reads the embedded text layer of PDF exam papers.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned for PDFs without an extractable text layer,
// typically scanned papers.
var ErrNoText = errors.New("pdf has no text layer")

// PageMarker separates pages in the extracted text.
func PageMarker(n int) string {
	return fmt.Sprintf("--- 第 %d 页 ---", n)
}

// Extract returns the text of every page, each preceded by its page marker.
// Pages that fail to decode are skipped and logged.
func Extract(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	hasText := false
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			slog.Warn("skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(PageMarker(i))
		sb.WriteString("\n")
		sb.WriteString(pageText)
		if pageText != "" {
			hasText = true
		}
	}
	if !hasText {
		return "", ErrNoText
	}
	return sb.String(), nil
}
