package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// UTF-8 text decoded as Latin-1 somewhere upstream. Longer sequences first:
// the replacer prefers earlier arguments at the same position.
var mojibake = strings.NewReplacer(
	"Âµ", "μ",
	"â€“", "–",
	"â€”", "—",
	"â€˜", "‘",
	"â€™", "’",
	"â€œ", "“",
	"â€�", "”",
	"â€¢", "•",
	"â€¦", "…",
	"â„¢", "™",
	"âˆ’", "−",
	"â€", "\"",
	"â", "",
)

var escapes = strings.NewReplacer(
	`\n`, "\n",
	`\t`, "\t",
	`\r`, "",
	"*", "",
	`\`, "",
)

// CleanText normalises one model string for display: terminal escapes and
// mojibake are removed, escaped newlines and tabs become real ones, and
// Markdown emphasis and stray backslashes are dropped.
func CleanText(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = mojibake.Replace(s)
	s = escapes.Replace(s)
	return strings.TrimSpace(s)
}

// CleanResponse applies CleanText to every string in v, descending into
// nested objects and arrays. Other values are kept as they are.
func CleanResponse(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = cleanValue(val)
	}
	return out
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		return CleanText(t)
	case map[string]any:
		return CleanResponse(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}

// ParseResult decodes a model payload into a non-empty JSON object. A
// Markdown code fence around the object is tolerated.
func ParseResult(payload string) (map[string]any, error) {
	text := stripCodeFence(strings.TrimSpace(payload))

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, domain.MalformedResponseError("model output is not a JSON object", err)
	}
	if len(result) == 0 {
		return nil, domain.MalformedResponseError("model output is an empty object", nil)
	}
	return result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
