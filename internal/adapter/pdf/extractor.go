package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
)

// Extractor reads PDFs page by page with github.com/ledongthuc/pdf.
type Extractor struct {
	minBoxChars int
}

func NewExtractor() *Extractor {
	return &Extractor{minBoxChars: 20}
}

// Open parses the document trailer and page tree. Page content is decoded lazily.
func (e *Extractor) Open(path string) (doc port.PageSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to open pdf %s: %v", path, r)
		}
	}()

	f, rdr, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	return &document{file: f, reader: rdr, minBoxChars: e.minBoxChars}, nil
}

// document serializes access to the underlying reader, which is not safe for
// concurrent use. Callers may fetch pages from several goroutines.
type document struct {
	mu          sync.Mutex
	file        *os.File
	reader      *pdf.Reader
	minBoxChars int
}

func (d *document) NumPages() int {
	return d.reader.NumPage()
}

// Page extracts body text, tables and boxed regions of page n (1-based).
// Each part is extracted in isolation; the page fails only when all of them fail.
func (d *document) Page(n int) (content domain.PageContent, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	content.Page = n
	if n < 1 || n > d.reader.NumPage() {
		return content, fmt.Errorf("page %d out of range (1-%d)", n, d.reader.NumPage())
	}

	var page pdf.Page
	if err := guard(func() error {
		page = d.reader.Page(n)
		if page.V.IsNull() {
			return errors.New("page object missing")
		}
		return nil
	}); err != nil {
		return content, err
	}

	textErr := guard(func() error {
		text, err := page.GetPlainText(nil)
		if err != nil {
			return err
		}
		if text = strings.TrimSpace(text); text != "" {
			content.Texts = append(content.Texts, text)
		}
		return nil
	})

	tableErr := guard(func() error {
		rows, err := page.GetTextByRow()
		if err != nil {
			return err
		}
		content.Tables = DetectTables(rows)
		return nil
	})

	boxErr := guard(func() error {
		c := page.Content()
		content.Boxes = BoxTexts(c.Text, c.Rect, d.minBoxChars)
		return nil
	})

	if textErr != nil && tableErr != nil && boxErr != nil {
		return content, fmt.Errorf("text: %v; tables: %v; boxes: %v", textErr, tableErr, boxErr)
	}
	for i, perr := range []error{textErr, tableErr, boxErr} {
		if perr != nil {
			log.Debug("partial page extraction", "page", n, "part", []string{"text", "tables", "boxes"}[i], "error", perr.Error())
		}
	}
	return content, nil
}

func (d *document) Close() error {
	return d.file.Close()
}

// guard runs fn and converts a panic inside the PDF library into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf library panic: %v", r)
		}
	}()
	return fn()
}
