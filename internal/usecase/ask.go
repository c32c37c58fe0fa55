package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
)

// NoEvidenceAnswer is returned without calling the model when retrieval finds nothing.
const NoEvidenceAnswer = "I don't know. No relevant passages were found in the indexed documents."

var ErrNoAnswerer = errors.New("answer generation is disabled")

// Answer is a generated answer with the context it was grounded on.
type Answer struct {
	Question   string                 `json:"question"`
	Text       string                 `json:"answer"`
	NoEvidence bool                   `json:"no_evidence"`
	Sources    []domain.GroundedChunk `json:"sources"`
}

// AskUseCase answers questions from retrieved context.
type AskUseCase struct {
	retriever port.Retriever
	answerer  port.Answerer
}

func NewAskUseCase(retriever port.Retriever, answerer port.Answerer) *AskUseCase {
	return &AskUseCase{
		retriever: retriever,
		answerer:  answerer,
	}
}

func (u *AskUseCase) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuery
	}
	if u.answerer == nil {
		return nil, ErrNoAnswerer
	}

	chunks, err := u.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Answer{Question: question, Text: NoEvidenceAnswer, NoEvidence: true}, nil
	}

	text, err := u.answerer.Answer(ctx, question, RenderContext(chunks))
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	log.Debug("answered", "model", u.answerer.ModelName(), "sources", len(chunks))

	return &Answer{
		Question: question,
		Text:     text,
		Sources:  chunks,
	}, nil
}
