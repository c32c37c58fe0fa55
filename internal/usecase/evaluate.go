package usecase

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// EvalCase is one labelled query: the pages a good answer must cite.
type EvalCase struct {
	Query  string         `yaml:"query"`
	Expect []EvalExpected `yaml:"expect"`
}

type EvalExpected struct {
	Source string `yaml:"source"`
	Page   int    `yaml:"page"`
}

func (e EvalExpected) citation() string {
	return domain.Chunk{Source: e.Source, Page: e.Page}.Citation()
}

// LoadEvalSet reads a YAML list of EvalCase.
func LoadEvalSet(path string) ([]EvalCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []EvalCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse eval set %s: %w", path, err)
	}
	for i, c := range cases {
		if c.Query == "" || len(c.Expect) == 0 {
			return nil, fmt.Errorf("eval case %d: query and expect are required", i+1)
		}
	}
	return cases, nil
}

// QueryMetrics scores one query at page granularity.
type QueryMetrics struct {
	Query     string   `json:"query"`
	Retrieved []string `json:"retrieved"`
	Hit       bool     `json:"hit"`
	Precision float64  `json:"precision"`
	Recall    float64  `json:"recall"`
	RR        float64  `json:"reciprocal_rank"`
	NDCG      float64  `json:"ndcg"`
}

// EvalReport aggregates metrics over an eval set.
type EvalReport struct {
	Queries       []QueryMetrics `json:"queries"`
	HitRate       float64        `json:"hit_rate"`
	MeanPrecision float64        `json:"mean_precision"`
	MeanRecall    float64        `json:"mean_recall"`
	MRR           float64        `json:"mrr"`
	MeanNDCG      float64        `json:"mean_ndcg"`
}

type EvaluateUseCase struct {
	retriever port.Retriever
}

func NewEvaluateUseCase(retriever port.Retriever) *EvaluateUseCase {
	return &EvaluateUseCase{retriever: retriever}
}

// Evaluate runs every case through the retriever. A query error aborts the run.
func (u *EvaluateUseCase) Evaluate(ctx context.Context, cases []EvalCase) (*EvalReport, error) {
	report := &EvalReport{}
	for _, c := range cases {
		chunks, err := u.retriever.Retrieve(ctx, c.Query)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", c.Query, err)
		}

		var retrieved []string
		seen := make(map[string]bool)
		for _, ch := range chunks {
			if !seen[ch.Citation] {
				seen[ch.Citation] = true
				retrieved = append(retrieved, ch.Citation)
			}
		}
		relevant := make([]string, len(c.Expect))
		for i, e := range c.Expect {
			relevant[i] = e.citation()
		}

		m := QueryMetrics{
			Query:     c.Query,
			Retrieved: retrieved,
			Precision: PrecisionAtK(retrieved, relevant),
			Recall:    RecallAtK(retrieved, relevant),
			RR:        ReciprocalRank(retrieved, relevant),
		}
		m.Hit = m.RR > 0
		m.NDCG = NDCG(binaryGains(retrieved, relevant), idealGains(len(relevant), len(retrieved)))
		report.Queries = append(report.Queries, m)
	}

	if n := float64(len(report.Queries)); n > 0 {
		for _, m := range report.Queries {
			if m.Hit {
				report.HitRate++
			}
			report.MeanPrecision += m.Precision
			report.MeanRecall += m.Recall
			report.MRR += m.RR
			report.MeanNDCG += m.NDCG
		}
		report.HitRate /= n
		report.MeanPrecision /= n
		report.MeanRecall /= n
		report.MRR /= n
		report.MeanNDCG /= n
	}
	return report, nil
}

func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(countHits(retrieved, relevant)) / float64(len(retrieved))
}

func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(countHits(retrieved, relevant)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant item, 0 when none was retrieved.
func ReciprocalRank(retrieved, relevant []string) float64 {
	relevantSet := toSet(relevant)
	for i, r := range retrieved {
		if relevantSet[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func NDCG(scores, ideal []float64) float64 {
	dcg := calculateDCG(scores)
	idcg := calculateDCG(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func calculateDCG(scores []float64) float64 {
	dcg := 0.0
	for i, score := range scores {
		dcg += score / math.Log2(float64(i+2))
	}
	return dcg
}

func countHits(retrieved, relevant []string) int {
	relevantSet := toSet(relevant)
	hits := 0
	for _, r := range retrieved {
		if relevantSet[r] {
			hits++
		}
	}
	return hits
}

func binaryGains(retrieved, relevant []string) []float64 {
	relevantSet := toSet(relevant)
	gains := make([]float64, len(retrieved))
	for i, r := range retrieved {
		if relevantSet[r] {
			gains[i] = 1
		}
	}
	return gains
}

func idealGains(relevant, k int) []float64 {
	n := min(relevant, k)
	gains := make([]float64, n)
	for i := range gains {
		gains[i] = 1
	}
	return gains
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
