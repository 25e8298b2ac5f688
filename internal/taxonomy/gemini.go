package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"google.golang.org/genai"

	"finconv/internal"
)

// GeminiScorer backs the assisted stage with a Gemini call. It satisfies
// the same Scorer contract as the static table, so the matcher does not
// care which one it is wired with.
type GeminiScorer struct {
	APIKey string
	Model  string
}

var _ Scorer = (*GeminiScorer)(nil)

func NewGeminiScorer(apiKey, model string) *GeminiScorer {
	return &GeminiScorer{APIKey: apiKey, Model: model}
}

const geminiSystemPrompt = `You map free-form financial statement line item labels to standardized ` +
	`taxonomy tags (us-gaap or ifrs namespaces). Respond with JSON only: ` +
	`{"tag": "us-gaap:...", "confidence": 0-100}. Use confidence 0 when unsure.`

type geminiScore struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

func (s *GeminiScorer) Score(ctx context.Context, label string, hint ScoreHint) (*internal.TaxonomyMatch, bool) {
	if s.APIKey == "" {
		return nil, false
	}
	model := s.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, false
	}

	prompt := fmt.Sprintf("Label: %q", label)
	if hint.StatementKind != "" {
		prompt += fmt.Sprintf("\nStatement kind: %s", hint.StatementKind)
	}
	if hint.Sector != "" {
		prompt += fmt.Sprintf("\nCompany sector: %s", hint.Sector)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(geminiSystemPrompt, genai.RoleUser),
	})
	if err != nil {
		return nil, false
	}

	text := resp.Text()
	var parsed geminiScore
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(text)
		if rerr != nil || json.Unmarshal([]byte(repaired), &parsed) != nil {
			return nil, false
		}
	}
	if strings.TrimSpace(parsed.Tag) == "" || parsed.Confidence <= 0 {
		return nil, false
	}

	framework := internal.FrameworkUSGAAP
	if strings.HasPrefix(strings.ToLower(parsed.Tag), "ifrs") {
		framework = internal.FrameworkIFRS
	}
	return &internal.TaxonomyMatch{
		Tag:        parsed.Tag,
		Framework:  framework,
		Confidence: clamp(parsed.Confidence, 0, 100),
		Method:     internal.MethodAssisted,
	}, true
}
