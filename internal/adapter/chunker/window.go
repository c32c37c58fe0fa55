package chunker

import (
	"fmt"
	"strings"
)

// WindowSplitter cuts text into fixed-size character windows.
// Each window after the first starts size-overlap characters after the previous one.
type WindowSplitter struct {
	size    int
	overlap int
}

func NewWindowSplitter(size, overlap int) (*WindowSplitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &WindowSplitter{size: size, overlap: overlap}, nil
}

// Split returns the windows of text. Sizes are counted in runes so multi-byte
// characters are never cut. Windows holding only whitespace are dropped.
func (s *WindowSplitter) Split(text string) ([]string, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := s.size - s.overlap
	var parts []string

	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}

		part := string(runes[start:end])
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}

		if end == len(runes) {
			break
		}
	}

	return parts, nil
}
