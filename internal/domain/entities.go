package domain

import (
	"fmt"
	"time"
)

// Modality tags the kind of content a chunk was built from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityTable Modality = "table"
	ModalityBox   Modality = "box"
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityTable, ModalityBox:
		return true
	}
	return false
}

// Chunk is an immutable unit of retrievable content with its provenance.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Modality  Modality  `json:"modality"`
	Source    string    `json:"source"`
	Page      int       `json:"page"`
	Seq       int       `json:"seq"`
	Embedding []float32 `json:"-"`
}

// Cited reports whether the chunk carries the metadata needed for a citation.
func (c Chunk) Cited() bool {
	return c.Source != "" && c.Page >= 1
}

// Citation formats the chunk's citation label.
func (c Chunk) Citation() string {
	return fmt.Sprintf("%s | Page %d", c.Source, c.Page)
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Candidate is a chunk scored during one query's ranking pipeline.
type Candidate struct {
	Chunk         Chunk   `json:"chunk"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordHits   int     `json:"keyword_hits"`
	BoostScore    float64 `json:"boost_score"`
	RerankScore   float64 `json:"rerank_score"`
}

// GroundedChunk is a ranked candidate with its citation label attached.
type GroundedChunk struct {
	Candidate
	Citation string `json:"citation"`
}

// Render formats the chunk as a labelled context entry. i is 1-based.
func (g GroundedChunk) Render(i int) string {
	return fmt.Sprintf("[Source %d] %s | Type: %s\n%s", i, g.Citation, g.Chunk.Modality, g.Chunk.Text)
}

type Query struct {
	Text  string
	Terms []string
}

// PageContent is what extraction yields for one page.
type PageContent struct {
	Page   int
	Texts  []string
	Tables []string
	Boxes  []string
}

// Empty reports whether the page produced no content at all.
func (p PageContent) Empty() bool {
	return len(p.Texts) == 0 && len(p.Tables) == 0 && len(p.Boxes) == 0
}

// Stage names where in ingestion a page failed.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
)

// PageOutcome records the result of ingesting one page.
type PageOutcome struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
	Chunks int    `json:"chunks"`
	Stage  Stage  `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the page was ingested.
func (p PageOutcome) OK() bool {
	return p.Reason == ""
}

// DocumentReport summarizes the ingestion of one source document.
type DocumentReport struct {
	Source    string        `json:"source"`
	Pages     []PageOutcome `json:"pages,omitempty"`
	Err       string        `json:"error,omitempty"`
	Unchanged bool          `json:"unchanged,omitempty"`
}

// Succeeded reports whether at least one page of the document made it into the store.
// An unchanged document counts as succeeded since its chunks are already stored.
func (d DocumentReport) Succeeded() bool {
	if d.Unchanged {
		return true
	}
	if d.Err != "" {
		return false
	}
	for _, p := range d.Pages {
		if p.OK() {
			return true
		}
	}
	return false
}

func (d DocumentReport) FailedPages() int {
	n := 0
	for _, p := range d.Pages {
		if !p.OK() {
			n++
		}
	}
	return n
}

func (d DocumentReport) ChunksWritten() int {
	n := 0
	for _, p := range d.Pages {
		n += p.Chunks
	}
	return n
}

// BatchReport is the summary of one ingestion run.
type BatchReport struct {
	RunID     string           `json:"run_id"`
	Documents []DocumentReport `json:"documents"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration"`
}

// BatchTotals aggregates a batch report.
type BatchTotals struct {
	Documents     int `json:"documents"`
	DocumentsOK   int `json:"documents_ok"`
	DocumentsFail int `json:"documents_failed"`
	Unchanged     int `json:"unchanged"`
	PagesOK       int `json:"pages_ok"`
	PagesFailed   int `json:"pages_failed"`
	ChunksWritten int `json:"chunks_written"`
}

func (b *BatchReport) Totals() BatchTotals {
	t := BatchTotals{Documents: len(b.Documents)}
	for _, d := range b.Documents {
		switch {
		case d.Unchanged:
			t.Unchanged++
		case d.Succeeded():
			t.DocumentsOK++
		default:
			t.DocumentsFail++
		}
		for _, p := range d.Pages {
			if p.OK() {
				t.PagesOK++
			} else {
				t.PagesFailed++
			}
		}
		t.ChunksWritten += d.ChunksWritten()
	}
	return t
}

// AnySucceeded reports whether the batch processed at least one document.
// An empty batch is not a failure.
func (b *BatchReport) AnySucceeded() bool {
	if len(b.Documents) == 0 {
		return true
	}
	for _, d := range b.Documents {
		if d.Succeeded() {
			return true
		}
	}
	return false
}

// SourceState is the file state recorded for incremental ingestion.
type SourceState struct {
	Source  string    `json:"source"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Pages   int       `json:"pages"`
	Chunks  int       `json:"chunks"`
	RunID   string    `json:"run_id"`
}

// Same reports whether the file behind s is unchanged relative to o.
func (s SourceState) Same(o SourceState) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}
