package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bridgetalk/pkg/domain"
)

const (
	defaultAttemptTimeout = 5 * time.Second
	maxAttempts           = 2
)

// TextGenerator produces a completion for a prompt. *ai.GeminiClient
// satisfies it.
type TextGenerator interface {
	GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Translator turns source-language text into target-language text via a
// generative model call, with a per-attempt timeout, a single retry, and
// fail-open degradation: the chat must never block on translation, so an
// irrecoverable failure returns the original text.
type Translator struct {
	gen     TextGenerator
	model   string
	cache   *Cache
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranslator constructs a translator backed by gen and cache.
func NewTranslator(gen TextGenerator, model string, cache *Cache, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Translator{
		gen:     gen,
		model:   model,
		cache:   cache,
		timeout: defaultAttemptTimeout,
		logger:  logger,
	}
}

// Translate returns targetLang text for text. It never returns an error:
// same-language or blank input passes through untouched, and after both
// attempts fail the original text is returned unchanged. Failure
// fallbacks are not cached.
func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) string {
	if sourceLang == targetLang {
		return text
	}
	if strings.TrimSpace(text) == "" {
		return text
	}
	if cached, ok := t.cache.Get(sourceLang, targetLang, text); ok {
		return cached
	}

	systemPrompt := translationPrompt(domain.LanguageName(sourceLang), domain.LanguageName(targetLang))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := t.attempt(ctx, systemPrompt, text)
		if err == nil {
			out = strings.TrimSpace(out)
			t.cache.Put(sourceLang, targetLang, text, out)
			return out
		}
		lastErr = err
	}
	t.logger.Error("translation failed, returning original text",
		"sourceLang", sourceLang,
		"targetLang", targetLang,
		"err", lastErr,
	)
	return text
}

func (t *Translator) attempt(ctx context.Context, systemPrompt, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.gen.GenerateText(ctx, t.model, systemPrompt, text)
}

func translationPrompt(sourceLangName, targetLangName string) string {
	return fmt.Sprintf(`You are a real-time chat translator. Rules:
1. Translate from %s to %s
2. Keep the tone natural and conversational
3. Preserve emojis, numbers, and proper nouns as-is
4. If already in target language, return unchanged
5. Return ONLY the translated text, no explanations, no quotes
6. For ambiguous phrases, use the most common conversational meaning`, sourceLangName, targetLangName)
}
