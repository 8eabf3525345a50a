package generation

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/metrics"
	"github.com/m-mizutani/crisisops/pkg/usecase/retrieval"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Parse(answerPromptRaw))

var ErrEmptyResponse = goerr.New("empty response from gemini")

// UseCase turns a question and its retrieved evidence into one answer
type UseCase struct {
	gemini adapter.Gemini
}

func New(gemini adapter.Gemini) *UseCase {
	return &UseCase{gemini: gemini}
}

// BuildPrompt renders the answer prompt for the question and evidence
func BuildPrompt(question string, evidence *retrieval.Result) (string, error) {
	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, map[string]any{
		"Context":       evidence.Context,
		"VisualContext": evidence.VisualContext,
		"NoTextContext": retrieval.NoTextContext,
		"Question":      question,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute answer prompt template")
	}
	return buf.String(), nil
}

// Generate makes a single blocking call and returns the model text as is
func (u *UseCase) Generate(ctx context.Context, question string, evidence *retrieval.Result) (string, error) {
	prompt, err := BuildPrompt(question, evidence)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	started := time.Now()
	resp, err := u.gemini.GenerateContent(ctx, contents, &genai.GenerateContentConfig{})
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate answer")
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(ErrEmptyResponse, "no candidate in response")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		// the call succeeded; an empty answer is still a turn
		logging.From(ctx).Warn("gemini returned no text",
			"finish_reason", resp.Candidates[0].FinishReason)
		return "", nil
	}

	logging.From(ctx).Debug("answer generated", "duration", time.Since(started))
	return strings.Join(parts, ""), nil
}
