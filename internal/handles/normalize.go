package handles

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/verdant-app/verdant/internal/errors"
)

// Normalize maps a handle to its canonical form: surrounding space and a
// leading @ removed, then Unicode lower-cased. Handles that normalize to the
// same string are the same handle.
func Normalize(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	// a Caser keeps state, so one per call
	return cases.Lower(language.Und).String(h)
}

// Validate normalizes handle and checks it against the length bounds and the
// allowed alphabet: lower-case ASCII letters, digits, '.' and '_', not
// starting or ending with '.'.
func (r *Registry) Validate(handle string) (string, error) {
	norm := Normalize(handle)
	n := utf8.RuneCountInString(norm)

	var problem string
	switch {
	case n < r.cfg.MinLength:
		problem = "too short"
	case n > r.cfg.MaxLength:
		problem = "too long"
	case strings.HasPrefix(norm, ".") || strings.HasSuffix(norm, "."):
		problem = "cannot start or end with a dot"
	case strings.IndexFunc(norm, func(c rune) bool { return !allowed(c) }) >= 0:
		problem = "only letters, digits, '.' and '_' are allowed"
	}
	if problem == "" {
		return norm, nil
	}
	return "", errors.New(ErrInvalidHandle).
		Component("handles").
		Category(errors.CategoryValidation).
		Context("problem", problem).
		Context("min_length", r.cfg.MinLength).
		Context("max_length", r.cfg.MaxLength).
		Build()
}

func allowed(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '.' || c == '_'
}
