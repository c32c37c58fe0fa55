package port

import "context"

// Answerer generates an answer to a question from a rendered context block.
type Answerer interface {
	Answer(ctx context.Context, question, contextBlock string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
