package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pdfrag/chunk"))

// ChunkID derives a stable chunk identifier from its provenance, so that
// re-ingesting an unchanged page yields the same IDs.
func ChunkID(source string, page int, modality domain.Modality, seq int) string {
	name := fmt.Sprintf("%s\x00%d\x00%s\x00%d", source, page, modality, seq)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// ModalityChunker splits each modality of a page independently and stamps
// every chunk with source, page and modality. Body text is one stream per page;
// each table and each box is its own chunk group.
type ModalityChunker struct {
	splitter port.Splitter
}

func NewModalityChunker(splitter port.Splitter) *ModalityChunker {
	return &ModalityChunker{splitter: splitter}
}

// NewSplitter builds the splitter named by kind ("window" or "recursive").
func NewSplitter(kind string, size, overlap int) (port.Splitter, error) {
	switch kind {
	case "", "window":
		return NewWindowSplitter(size, overlap)
	case "recursive":
		return NewRecursiveSplitter(size, overlap)
	}
	return nil, fmt.Errorf("unknown text splitter %q", kind)
}

func (c *ModalityChunker) Chunk(source string, page domain.PageContent) ([]domain.Chunk, error) {
	if source == "" {
		return nil, fmt.Errorf("chunk source is required")
	}
	if page.Page < 1 {
		return nil, fmt.Errorf("invalid page number %d for %s", page.Page, source)
	}

	var chunks []domain.Chunk
	seq := 0

	emit := func(modality domain.Modality, text string) error {
		parts, err := c.splitter.Split(text)
		if err != nil {
			return fmt.Errorf("failed to split %s content: %w", modality, err)
		}
		for _, part := range parts {
			chunks = append(chunks, domain.Chunk{
				ID:       ChunkID(source, page.Page, modality, seq),
				Text:     part,
				Modality: modality,
				Source:   source,
				Page:     page.Page,
				Seq:      seq,
			})
			seq++
		}
		return nil
	}

	if body := joinNonEmpty(page.Texts, "\n\n"); body != "" {
		if err := emit(domain.ModalityText, body); err != nil {
			return nil, err
		}
	}
	for _, table := range page.Tables {
		if strings.TrimSpace(table) == "" {
			continue
		}
		if err := emit(domain.ModalityTable, table); err != nil {
			return nil, err
		}
	}
	for _, box := range page.Boxes {
		if strings.TrimSpace(box) == "" {
			continue
		}
		if err := emit(domain.ModalityBox, box); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

func joinNonEmpty(blocks []string, sep string) string {
	kept := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, sep)
}
