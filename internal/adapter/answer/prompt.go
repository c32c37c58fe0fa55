package answer

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed prompt.tmpl
var promptSource string

var promptTemplate = template.Must(template.New("answer").Parse(promptSource))

type promptData struct {
	Context  string
	Question string
}

// BuildPrompt renders the grounded-answer prompt for one question.
func BuildPrompt(question, contextBlock string) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, promptData{Context: contextBlock, Question: question}); err != nil {
		return "", err
	}
	return b.String(), nil
}
