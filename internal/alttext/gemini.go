package alttext

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-2.5-flash"

type Gemini struct {
	apiKey string
	model  string
}

func NewGemini(apiKey, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Gemini{apiKey: strings.TrimSpace(apiKey), model: model}
}

func (g *Gemini) Generate(ctx context.Context, image []byte, mimeType string, lang Language) (string, error) {
	if g.apiKey == "" {
		return "", ErrAPIKeyMissing
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", Classify(fmt.Errorf("create gemini client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(Prompt(lang)),
	)
	if err != nil {
		return "", Classify(fmt.Errorf("generate content: %w", err))
	}

	text, err := firstText(resp)
	if err != nil {
		return "", Classify(err)
	}
	return Clean(text), nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty content returned from gemini")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response format from gemini")
	}
	return b.String(), nil
}
