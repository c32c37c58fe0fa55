package pdf

import (
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// cellGapFactor is the horizontal gap, in multiples of the font size,
// that separates two table cells on one row.
const cellGapFactor = 1.5

// DetectTables finds runs of at least two consecutive rows that split into the
// same number (>= 2) of cells and renders each run as a markdown table.
func DetectTables(rows pdf.Rows) []string {
	sorted := make([]*pdf.Row, 0, len(rows))
	for _, r := range rows {
		if r != nil && len(r.Content) > 0 {
			sorted = append(sorted, r)
		}
	}
	// PDF y grows upwards; read top to bottom.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position > sorted[j].Position
	})

	var tables []string
	var run [][]string

	flush := func() {
		if len(run) >= 2 {
			if md := TableToMarkdown(run); md != "" {
				tables = append(tables, md)
			}
		}
		run = nil
	}

	for _, row := range sorted {
		cells := SplitCells(row.Content)
		if len(cells) < 2 {
			flush()
			continue
		}
		if len(run) > 0 && len(run[0]) != len(cells) {
			flush()
		}
		run = append(run, cells)
	}
	flush()

	return tables
}

// SplitCells joins the text runs of one row into cells, starting a new cell
// wherever the gap to the previous run exceeds cellGapFactor font sizes.
func SplitCells(texts pdf.TextHorizontal) []string {
	runs := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			runs = append(runs, t)
		}
	}
	if len(runs) == 0 {
		return nil
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

	var cells []string
	var cur strings.Builder
	end := runs[0].X

	for i, t := range runs {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		gap := t.X - end
		switch {
		case i == 0:
		case gap > size*cellGapFactor:
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		case gap > size*0.15 && !strings.HasSuffix(cur.String(), " "):
			cur.WriteByte(' ')
		}
		cur.WriteString(t.S)
		if e := t.X + t.W; e > end || i == 0 {
			end = e
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))

	return cells
}

// TableToMarkdown renders rows as a markdown table: the first row is the
// header, rows are padded to the widest row, and cells are trimmed with
// newlines flattened.
func TableToMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return ""
	}

	line := func(cells []string) string {
		out := make([]string, width)
		for i := range out {
			if i < len(cells) {
				out[i] = strings.TrimSpace(strings.ReplaceAll(cells[i], "\n", " "))
			}
		}
		return "| " + strings.Join(out, " | ") + " |"
	}

	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, line(rows[0]), line(sep))
	for _, r := range rows[1:] {
		lines = append(lines, line(r))
	}
	return strings.Join(lines, "\n")
}

// BoxTexts collects the text drawn inside each rectangle of the page and
// returns the regions holding at least minChars characters. Rectangles that
// enclose every text run on the page (page frames) are ignored.
func BoxTexts(texts []pdf.Text, rects []pdf.Rect, minChars int) []string {
	if len(texts) == 0 || len(rects) == 0 {
		return nil
	}

	var boxes []string
	seen := make(map[string]struct{})

	for _, r := range rects {
		minX, maxX := order(r.Min.X, r.Max.X)
		minY, maxY := order(r.Min.Y, r.Max.Y)
		if maxX-minX < 1 || maxY-minY < 1 {
			continue // rule lines
		}

		var inside []pdf.Text
		for _, t := range texts {
			if t.X >= minX && t.X <= maxX && t.Y >= minY && t.Y <= maxY {
				inside = append(inside, t)
			}
		}
		if len(inside) == 0 || len(inside) == len(texts) {
			continue
		}

		text := readingOrder(inside)
		if len([]rune(text)) < minChars {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		boxes = append(boxes, text)
	}

	return boxes
}

// readingOrder groups runs into lines by baseline and joins them top to bottom.
func readingOrder(texts []pdf.Text) string {
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var lines []string
	var line pdf.TextHorizontal
	for i, t := range sorted {
		if i > 0 && t.Y != sorted[i-1].Y {
			lines = append(lines, strings.Join(SplitCells(line), " "))
			line = nil
		}
		line = append(line, t)
	}
	lines = append(lines, strings.Join(SplitCells(line), " "))

	return strings.TrimSpace(strings.Join(lines, " "))
}

func order(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}
