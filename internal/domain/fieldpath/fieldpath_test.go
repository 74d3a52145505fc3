package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_LookupFirstNonEmpty(t *testing.T) {
	p := MustCompile("consentLink", "consentUrl", "data.link")

	data := map[string]any{
		"consentLink": "  ",
		"consentUrl":  nil,
		"data":        map[string]any{"link": "https://x.test/a"},
	}

	v, ok := p.Lookup(data)
	require.True(t, ok)
	assert.Equal(t, "https://x.test/a", v)
	assert.Equal(t, "https://x.test/a", p.String(data))
}

func TestPath_LookupMissing(t *testing.T) {
	p := MustCompile("a", "b.c")
	_, ok := p.Lookup(map[string]any{"b": map[string]any{}})
	assert.False(t, ok)
	assert.Equal(t, "", p.String(nil))
}

func TestPath_ZeroIsPresent(t *testing.T) {
	p := MustCompile("availableMarginValue", "margin")
	f, ok := p.Float(map[string]any{"availableMarginValue": float64(0), "margin": "12,50"})
	require.True(t, ok)
	assert.InDelta(t, 0.0, f, 0.0001)
}

func TestCompile_RejectsBadExpression(t *testing.T) {
	_, err := Compile("a..b")
	assert.Error(t, err)
}

func TestPath_List(t *testing.T) {
	p := MustCompile("data", "items")
	rows := p.List(map[string]any{"items": []any{map[string]any{"id": "1"}, "junk"}})
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["id"])
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"R$ 99,9", 99.9, true},
		{"350.556", 350.56, true},
		{12.346, 12.35, true},
		{7, 7, true},
		{"", 0, false},
		{"abc", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDecimal(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.0001, "%v", tt.in)
		}
	}
}

func TestFindURL(t *testing.T) {
	payload := map[string]any{
		"status": "WAITING_CONSENT",
		"meta": map[string]any{
			"steps": []any{"plain", map[string]any{"href": "https://consent.test/abc"}},
		},
	}
	assert.Equal(t, "https://consent.test/abc", FindURL(payload))
	assert.Equal(t, "", FindURL(map[string]any{"a": "ftp://nope"}))
}
