package workflow

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// SubjectRules holds the provider-specific parts of subject normalization.
type SubjectRules struct {
	// PhoneValid rejects stored phones the provider will not accept. Nil accepts any.
	PhoneValid func(digits string) bool
	// PhoneFallback supplies a phone number when the job has no acceptable one.
	PhoneFallback func() string
	// RequirePhone fails subjects that end up without a phone.
	RequirePhone bool
	// RequireBirthDate fails subjects without a parseable birth date.
	RequireBirthDate bool
}

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05", "02-01-2006"}

// PrepareSubject normalizes a subject and validates the result.
func PrepareSubject(s model.Subject, rules SubjectRules) (model.Subject, error) {
	out := model.Subject{
		NationalID: NormalizeNationalID(s.NationalID),
		Name:       NormalizeName(s.Name),
		Phone:      NormalizePhone(s.Phone),
		BirthDate:  NormalizeBirthDate(s.BirthDate),
		Email:      strings.ToLower(strings.TrimSpace(s.Email)),
		Gender:     strings.ToUpper(strings.TrimSpace(s.Gender)),
	}
	if rules.PhoneValid != nil && out.Phone != "" && !rules.PhoneValid(out.Phone) {
		out.Phone = ""
	}
	if out.Phone == "" && rules.PhoneFallback != nil {
		out.Phone = NormalizePhone(rules.PhoneFallback())
	}
	if out.Gender != "M" && out.Gender != "F" {
		out.Gender = ""
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	if rules.RequirePhone && (len(out.Phone) < 10 || len(out.Phone) > 11) {
		return out, &Failure{Kind: FailureInvalidSubject, Message: "invalid phone"}
	}
	if rules.RequireBirthDate && out.BirthDate == "" {
		return out, &Failure{Kind: FailureInvalidSubject, Message: "birth date is required"}
	}
	return out, nil
}

// Digits keeps only ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeNationalID keeps the last 11 digits and restores leading zeros
// lost by numeric storage.
func NormalizeNationalID(s string) string {
	d := Digits(s)
	if d == "" {
		return ""
	}
	if len(d) > 11 {
		d = d[len(d)-11:]
	}
	return strings.Repeat("0", 11-len(d)) + d
}

// NormalizeName folds accents to ASCII, drops punctuation, collapses spaces
// and upper-cases the result.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	if len(name) > 255 {
		name = name[:255]
	}
	return strings.ToUpper(name)
}

// NormalizePhone keeps up to 11 national digits, dropping a leading 55 country code.
func NormalizePhone(s string) string {
	d := Digits(s)
	if strings.HasPrefix(d, "55") && len(d) >= 12 {
		d = d[2:]
	}
	if len(d) > 11 {
		d = d[len(d)-11:]
	}
	return d
}

// NormalizeBirthDate renders a recognizable date as YYYY-MM-DD, or "".
func NormalizeBirthDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
