package transcript

import (
	"html"
	"regexp"
	"strings"
)

// Result is the outcome of normalizing one message body. Filtered means the
// message carried no conversational content and should be dropped.
type Result struct {
	Filtered bool
	Text     string
}

// Normalizer cleans raw message bodies before classification.
type Normalizer interface {
	Normalize(text, role string) Result
}

var (
	markupTagPattern  = regexp.MustCompile(`<[^>]*>`)
	hexPayloadPattern = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
)

// System filler emitted by the bot runtime between real turns. Compared
// case-insensitively after cleaning.
var fillerPhrases = map[string]struct{}{
	"please wait":                      {},
	"one moment please":                {},
	"please hold while i transfer you": {},
	"transferring you to an agent":     {},
	"is there anything else i can help you with": {},
}

// DefaultNormalizer strips voice-markup tags, encoded command payloads, HTML
// entities, and known system-filler phrases.
type DefaultNormalizer struct{}

// NewNormalizer constructs the default normalizer.
func NewNormalizer() DefaultNormalizer {
	return DefaultNormalizer{}
}

// Normalize cleans one message body. Role is accepted for parity with the
// platform API; the default rules are role-independent.
func (DefaultNormalizer) Normalize(text, role string) Result {
	_ = role
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Filtered: true}
	}

	if isCommandPayload(trimmed) {
		return Result{Filtered: true}
	}
	if hexPayloadPattern.MatchString(trimmed) {
		return Result{Filtered: true}
	}

	cleaned := markupTagPattern.ReplaceAllString(trimmed, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return Result{Filtered: true}
	}

	key := strings.ToLower(strings.TrimRight(cleaned, ".!?"))
	if _, ok := fillerPhrases[key]; ok {
		return Result{Filtered: true}
	}

	return Result{Text: cleaned}
}

// isCommandPayload detects JSON command envelopes the bot runtime embeds in
// the message stream (card renders, handoff directives).
func isCommandPayload(s string) bool {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return false
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, `"type"`) &&
		(strings.Contains(lower, `"command"`) || strings.Contains(lower, `"template"`) || strings.Contains(lower, `"payload"`))
}

var _ Normalizer = DefaultNormalizer{}
