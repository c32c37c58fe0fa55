package usecase

import (
	"strings"

	"pdfrag/internal/domain"
)

const contextSeparator = "\n---\n"

// RenderContext formats grounded chunks as the labelled context block handed to
// the answer model. Labels are numbered from 1 in rank order.
func RenderContext(chunks []domain.GroundedChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Render(i + 1)
	}
	return strings.Join(parts, contextSeparator)
}
