package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFenceRegex     = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON reports model output without a JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// DecodeJSON decodes the JSON object embedded in raw model output into v.
// It strips markdown code fences, keeps the text between the first '{' and
// the last '}', and drops trailing commas before '}' or ']'. Nothing else
// is repaired.
func DecodeJSON(raw string, v any) error {
	s := codeFenceRegex.ReplaceAllString(raw, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	s = trailingCommaRegex.ReplaceAllString(s[start:end+1], "$1")
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
