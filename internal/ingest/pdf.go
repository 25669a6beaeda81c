// Package ingest extracts health record text from uploaded documents.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFPages bounds how much of an upload gets parsed.
const maxPDFPages = 50

// ExtractPDFText returns the plain text of a PDF payload with whitespace
// collapsed.
func ExtractPDFText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	if len(data) == 0 {
		return "", errors.New("empty pdf payload")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	if n := reader.NumPage(); n > maxPDFPages {
		return "", fmt.Errorf("pdf has %d pages, maximum is %d", n, maxPDFPages)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	text = NormalizeText(buf.String())
	if text == "" {
		return "", errors.New("pdf contains no extractable text")
	}
	return text, nil
}

// NormalizeText collapses whitespace runs into single spaces and trims the
// result. Extraction yields erratic spacing between glyph runs.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
