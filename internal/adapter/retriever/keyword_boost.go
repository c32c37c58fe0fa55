package retriever

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"pdfrag/internal/adapter/analyzer"
	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// Multiplicative scales a matching candidate's score by Factor.
// For negative scores the boost is applied to the magnitude so that a match
// never lowers a score.
type Multiplicative struct {
	Factor float64
}

func (m Multiplicative) Fuse(semantic float64, hits int) float64 {
	if hits <= 0 {
		return semantic
	}
	return semantic + math.Abs(semantic)*(m.Factor-1)
}

func (m Multiplicative) Name() string {
	return fmt.Sprintf("multiplicative(%g)", m.Factor)
}

// Additive adds Bonus per matching term.
type Additive struct {
	Bonus float64
}

func (a Additive) Fuse(semantic float64, hits int) float64 {
	if hits <= 0 {
		return semantic
	}
	return semantic + a.Bonus*float64(hits)
}

func (a Additive) Name() string {
	return fmt.Sprintf("additive(%g)", a.Bonus)
}

// NewFusion builds the fusion strategy named by kind.
func NewFusion(kind string, boost, bonus float64) (port.Fusion, error) {
	switch kind {
	case "", "multiplicative":
		if boost < 1 {
			return nil, fmt.Errorf("multiplicative boost must be >= 1, got %g", boost)
		}
		return Multiplicative{Factor: boost}, nil
	case "additive":
		if bonus < 0 {
			return nil, fmt.Errorf("additive bonus must be >= 0, got %g", bonus)
		}
		return Additive{Bonus: bonus}, nil
	}
	return nil, fmt.Errorf("unknown fusion %q", kind)
}

// MatchMode selects how a query term is found in a passage.
type MatchMode string

const (
	MatchSubstring MatchMode = "substring"
	MatchWord      MatchMode = "word"
)

// KeywordBooster rescores candidates that literally contain query terms.
type KeywordBooster struct {
	fusion port.Fusion
	match  MatchMode
}

func NewKeywordBooster(fusion port.Fusion, match MatchMode) *KeywordBooster {
	if match == "" {
		match = MatchSubstring
	}
	return &KeywordBooster{fusion: fusion, match: match}
}

// Boost sets KeywordHits and BoostScore on every candidate and returns them
// sorted by BoostScore, descending. Equal scores keep their input order.
// The input slice is not modified.
func (b *KeywordBooster) Boost(terms []string, candidates []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		hits := CountHits(terms, out[i].Chunk.Text, b.match)
		out[i].KeywordHits = hits
		out[i].BoostScore = b.fusion.Fuse(out[i].SemanticScore, hits)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BoostScore > out[j].BoostScore
	})
	return out
}

// CountHits counts the terms present in text. Terms are expected lowercase.
func CountHits(terms []string, text string, mode MatchMode) int {
	if len(terms) == 0 {
		return 0
	}

	hits := 0
	switch mode {
	case MatchWord:
		words := make(map[string]struct{})
		for _, w := range analyzer.Words(text) {
			words[w] = struct{}{}
		}
		for _, t := range terms {
			if _, ok := words[t]; ok {
				hits++
			}
		}
	default:
		lower := strings.ToLower(text)
		for _, t := range terms {
			if t != "" && strings.Contains(lower, t) {
				hits++
			}
		}
	}
	return hits
}
