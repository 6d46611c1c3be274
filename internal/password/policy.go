package password

import (
	"fmt"
	"strings"

	rerrors "github.com/systmms/pgrotate/internal/errors"
)

const (
	DefaultLength = 32
	MaxLength     = 4096

	// DefaultExcludeCharacters are unsafe in connection strings and shells.
	DefaultExcludeCharacters = ":/@\"'\\"

	// Punctuation is the punctuation class used by the secret store.
	Punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// Policy describes the shape of a generated password.
type Policy struct {
	Length                  int    `json:"password_length" yaml:"password_length"`
	ExcludeCharacters       string `json:"exclude_characters" yaml:"exclude_characters"`
	ExcludeNumbers          bool   `json:"exclude_numbers" yaml:"exclude_numbers"`
	ExcludePunctuation      bool   `json:"exclude_punctuation" yaml:"exclude_punctuation"`
	ExcludeUppercase        bool   `json:"exclude_uppercase" yaml:"exclude_uppercase"`
	ExcludeLowercase        bool   `json:"exclude_lowercase" yaml:"exclude_lowercase"`
	RequireEachIncludedType bool   `json:"require_each_included_type" yaml:"require_each_included_type"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Length:                  DefaultLength,
		ExcludeCharacters:       DefaultExcludeCharacters,
		RequireEachIncludedType: true,
	}
}

// Validate rejects policies no generator could satisfy.
func (p Policy) Validate() error {
	if p.Length < 1 || p.Length > MaxLength {
		return rerrors.Validationf("password length must be between 1 and %d, got %d", MaxLength, p.Length)
	}
	if p.ExcludeNumbers && p.ExcludePunctuation && p.ExcludeUppercase && p.ExcludeLowercase {
		return rerrors.Validationf("password policy excludes every character class")
	}
	if p.RequireEachIncludedType && p.Length < len(p.includedClasses()) {
		return rerrors.Validationf("password length %d is too short to include %d character classes",
			p.Length, len(p.includedClasses()))
	}
	return nil
}

type class int

const (
	classNumber class = iota
	classPunctuation
	classUpper
	classLower
	classOther
)

func classOf(r rune) class {
	switch {
	case r >= '0' && r <= '9':
		return classNumber
	case r >= 'A' && r <= 'Z':
		return classUpper
	case r >= 'a' && r <= 'z':
		return classLower
	case strings.ContainsRune(Punctuation, r):
		return classPunctuation
	default:
		return classOther
	}
}

func (p Policy) excluded(c class) bool {
	switch c {
	case classNumber:
		return p.ExcludeNumbers
	case classPunctuation:
		return p.ExcludePunctuation
	case classUpper:
		return p.ExcludeUppercase
	case classLower:
		return p.ExcludeLowercase
	default:
		return true
	}
}

func (p Policy) includedClasses() []class {
	var out []class
	for _, c := range []class{classNumber, classPunctuation, classUpper, classLower} {
		if !p.excluded(c) {
			out = append(out, c)
		}
	}
	return out
}

var classNames = map[class]string{
	classNumber:      "number",
	classPunctuation: "punctuation",
	classUpper:       "uppercase",
	classLower:       "lowercase",
	classOther:       "non-ASCII",
}

// Check reports the first way s violates the policy. The password itself is
// never part of the error.
func (p Policy) Check(s string) error {
	if n := len([]rune(s)); n != p.Length {
		return fmt.Errorf("expected %d characters, got %d", p.Length, n)
	}

	seen := make(map[class]bool)
	for i, r := range s {
		if strings.ContainsRune(p.ExcludeCharacters, r) {
			return fmt.Errorf("excluded character at offset %d", i)
		}
		c := classOf(r)
		if p.excluded(c) {
			return fmt.Errorf("%s character at offset %d", classNames[c], i)
		}
		seen[c] = true
	}

	if p.RequireEachIncludedType {
		for _, c := range p.includedClasses() {
			if c == classPunctuation && allExcluded(Punctuation, p.ExcludeCharacters) {
				continue
			}
			if !seen[c] {
				return fmt.Errorf("no %s character", classNames[c])
			}
		}
	}
	return nil
}

func allExcluded(set, excluded string) bool {
	for _, r := range set {
		if !strings.ContainsRune(excluded, r) {
			return false
		}
	}
	return true
}
