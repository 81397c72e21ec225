package mind

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// namePattern catches "je m'appelle X", "je suis X" and "c'est X".
var namePattern = regexp.MustCompile(`(?i)(?:m'\s*appelle|\bsuis|c'\s*est)\s+([\p{L}\p{N}_-]+)`)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// normalize composes accents and unifies apostrophes.
func normalize(s string) string {
	return apostrophes.Replace(norm.NFC.String(s))
}

func fold(s string) string {
	return cases.Fold().String(normalize(s))
}

// ContainsFold reports whether any token occurs in text, ignoring case and
// accent encoding.
func ContainsFold(text string, tokens ...string) bool {
	f := fold(text)
	for _, t := range tokens {
		if t != "" && strings.Contains(f, fold(t)) {
			return true
		}
	}
	return false
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	s = strings.TrimSpace(normalize(s))
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return cases.Upper(language.French).String(string(r)) +
		cases.Lower(language.French).String(s[size:])
}

// ExtractName returns the name introduced in text, or the whole trimmed
// input when no introductory phrasing is found. It never fails.
func ExtractName(text string) string {
	t := normalize(strings.TrimSpace(text))
	if m := namePattern.FindStringSubmatch(t); m != nil {
		return Capitalize(m[1])
	}
	return Capitalize(t)
}

// ClassifyGender maps a free-text answer onto a Gender. "masculin" is
// checked before "féminin"; ok is false when neither occurs.
func ClassifyGender(answer string) (Gender, bool) {
	switch {
	case ContainsFold(answer, string(GenderMasculine)):
		return GenderMasculine, true
	case ContainsFold(answer, string(GenderFeminine)):
		return GenderFeminine, true
	}
	return GenderUnknown, false
}
