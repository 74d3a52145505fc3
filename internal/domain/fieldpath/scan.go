package fieldpath

import (
	"sort"
	"strings"
)

// FindURL walks v depth-first and returns the first http(s) URL string.
// Object keys are visited in sorted order so the result is stable.
func FindURL(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			return s
		}
	case []any:
		for _, item := range t {
			if u := FindURL(item); u != "" {
				return u
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if u := FindURL(t[k]); u != "" {
				return u
			}
		}
	}
	return ""
}
