package alttext

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const MaxLength = 125

var (
	ErrAPIKeyMissing = errors.New("alt text api key is not configured")
	ErrAPIKeyInvalid = errors.New("alt text api key is invalid")
	ErrFailed        = errors.New("alt text generation failed")
)

// Generator produces alt text for an image. Implementations return errors
// wrapping ErrAPIKeyMissing, ErrAPIKeyInvalid or ErrFailed.
type Generator interface {
	Generate(ctx context.Context, image []byte, mimeType string, lang Language) (string, error)
}

type Language string

const (
	English Language = "en"
	German  Language = "de"
)

// ParseLanguage falls back to English for unknown codes.
func ParseLanguage(code string) Language {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "de", "de-de", "german":
		return German
	default:
		return English
	}
}

func (l Language) Name() string {
	if l == German {
		return "German"
	}
	return "English"
}

func Prompt(lang Language) string {
	return fmt.Sprintf(
		"Generate a concise, SEO-friendly alt text for this image in %s. "+
			"Describe the main subject, context, and any important text. "+
			"Keep it under %d characters. "+
			"The response should only be the alt text itself, with no introductory phrases like \"Alt text:\" or quotes.",
		lang.Name(), MaxLength,
	)
}

// Clean trims the model output and strips one wrapping quote character from
// each end.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	if text != "" && isQuote(text[0]) {
		text = text[1:]
	}
	if text != "" && isQuote(text[len(text)-1]) {
		text = text[:len(text)-1]
	}
	return text
}

func isQuote(b byte) bool {
	return b == '"' || b == '\''
}

// Classify maps a provider error onto the package sentinels.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAPIKeyMissing), errors.Is(err, ErrAPIKeyInvalid), errors.Is(err, ErrFailed):
		return err
	case strings.Contains(err.Error(), "API key not valid"):
		return fmt.Errorf("%w: %v", ErrAPIKeyInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
}
