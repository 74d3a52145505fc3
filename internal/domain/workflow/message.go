package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMessageCap is the stored message limit, in characters.
const DefaultMessageCap = 3900

var errorKeys = []string{"Erros", "erros", "errors"}

// NormalizeMessage turns an error text that embeds a JSON body into the
// provider's own error strings, joined by " | ". Other text is returned trimmed.
func NormalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msg
	}
	candidates := []string{msg}
	if i := strings.Index(msg, "{"); i > 0 {
		candidates = append(candidates, strings.TrimSpace(msg[i:]))
	}
	for _, c := range candidates {
		var decoded any
		if err := json.Unmarshal([]byte(c), &decoded); err != nil {
			continue
		}
		if errs := nestedErrors(decoded); len(errs) > 0 {
			return strings.Join(errs, " | ")
		}
	}
	return msg
}

// nestedErrors walks the payload breadth-first collecting values under the
// known error keys. JSON strings found along the way are decoded and walked.
func nestedErrors(payload any) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(v any) {
		text := strings.TrimSpace(scalarText(v))
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}

	queue := []any{payload}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		switch t := cur.(type) {
		case string:
			var decoded any
			if json.Unmarshal([]byte(t), &decoded) == nil {
				switch decoded.(type) {
				case map[string]any, []any:
					queue = append(queue, decoded)
				}
			}
		case map[string]any:
			for _, key := range errorKeys {
				v, ok := t[key]
				if !ok {
					continue
				}
				switch vt := v.(type) {
				case []any:
					for _, item := range vt {
						switch item.(type) {
						case map[string]any, []any:
							queue = append(queue, item)
						default:
							add(item)
						}
					}
				case map[string]any:
					queue = append(queue, vt)
				default:
					add(vt)
				}
			}
			for _, v := range t {
				switch v.(type) {
				case map[string]any, []any, string:
					queue = append(queue, v)
				}
			}
		case []any:
			queue = append(queue, t...)
		}
	}
	return out
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	}
	return ""
}

// Truncate cuts msg to at most limit characters. A non-positive limit uses
// DefaultMessageCap.
func Truncate(msg string, limit int) string {
	if limit <= 0 {
		limit = DefaultMessageCap
	}
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:limit])
}
