// Package fieldpath resolves values from loosely shaped provider payloads.
//
// Providers name the same datum differently across endpoints and versions.
// A Path is an ordered list of JMESPath candidates; the first one that yields
// a present, non-empty value wins.
package fieldpath

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// Path is an ordered list of compiled candidate expressions.
type Path struct {
	exprs    []string
	compiled []jmespath.JMESPath
}

// Compile builds a Path from candidate expressions.
func Compile(exprs ...string) (Path, error) {
	p := Path{exprs: make([]string, 0, len(exprs)), compiled: make([]jmespath.JMESPath, 0, len(exprs))}
	for _, e := range exprs {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		c, err := jmespath.Compile(e)
		if err != nil {
			return Path{}, fmt.Errorf("compile %q: %w", e, err)
		}
		p.exprs = append(p.exprs, e)
		p.compiled = append(p.compiled, c)
	}
	return p, nil
}

// MustCompile is Compile for package-level tables; it panics on a bad expression.
func MustCompile(exprs ...string) Path {
	p, err := Compile(exprs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Exprs returns the candidate expressions in order.
func (p Path) Exprs() []string { return p.exprs }

// Lookup returns the first present, non-empty candidate value.
func (p Path) Lookup(data map[string]any) (any, bool) {
	if data == nil {
		return nil, false
	}
	for _, c := range p.compiled {
		v, err := c.Search(data)
		if err != nil {
			continue
		}
		if !Empty(v) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first candidate rendered as trimmed text.
func (p Path) String(data map[string]any) string {
	v, ok := p.Lookup(data)
	if !ok {
		return ""
	}
	return ToString(v)
}

// Float returns the first candidate parsed as a decimal.
func (p Path) Float(data map[string]any) (float64, bool) {
	v, ok := p.Lookup(data)
	if !ok {
		return 0, false
	}
	return ParseDecimal(v)
}

// Map returns the first candidate that is an object.
func (p Path) Map(data map[string]any) map[string]any {
	v, ok := p.Lookup(data)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// List returns the first candidate that is an array of objects.
func (p Path) List(data map[string]any) []map[string]any {
	v, ok := p.Lookup(data)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Empty reports whether v counts as absent: nil, blank text or an empty collection.
func Empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return false
	}
}

// ToString renders scalars as text and collections as compact JSON.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ParseDecimal reads a monetary value written with either Brazilian
// ("1.234,56") or US ("1,234.56") separators, rounded to cents.
func ParseDecimal(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return round2(t), true
	case float32:
		return round2(float64(t)), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return round2(f), err == nil
	case string:
		return parseDecimalString(t)
	}
	return 0, false
}

func parseDecimalString(raw string) (float64, bool) {
	s := strings.Join(strings.Fields(raw), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "R$"), "$")
	if s == "" {
		return 0, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return round2(f), true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
