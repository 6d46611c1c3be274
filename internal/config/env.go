package config

import (
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/password"
)

// Bool is a boolean environment variable. true, 1, y and yes are true in any
// case; any other value is false.
type Bool struct {
	Value bool
	Set   bool
}

// Decode implements envdecode.Decoder.
func (b *Bool) Decode(s string) error {
	b.Set = true
	b.Value = ParseBool(s)
	return nil
}

// ParseBool applies the environment boolean rules.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "y", "yes":
		return true
	}
	return false
}

// Int is an integer environment variable.
type Int struct {
	Value int
	Set   bool
}

// Decode implements envdecode.Decoder.
func (i *Int) Decode(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	i.Value, i.Set = n, true
	return nil
}

// Env is the process environment pgrotate reads.
type Env struct {
	PasswordLength          Int    `env:"PASSWORD_LENGTH"`
	ExcludeCharacters       string `env:"EXCLUDE_CHARACTERS"`
	ExcludeNumbers          Bool   `env:"EXCLUDE_NUMBERS"`
	ExcludePunctuation      Bool   `env:"EXCLUDE_PUNCTUATION"`
	ExcludeUppercase        Bool   `env:"EXCLUDE_UPPERCASE"`
	ExcludeLowercase        Bool   `env:"EXCLUDE_LOWERCASE"`
	RequireEachIncludedType Bool   `env:"REQUIRE_EACH_INCLUDED_TYPE"`
	SecretsManagerEndpoint  string `env:"SECRETS_MANAGER_ENDPOINT"`
}

// LoadEnv decodes Env from the process environment. Unset variables leave
// their fields zero.
func LoadEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Env{}, rerrors.ConfigError{
			Message:    "invalid environment: " + err.Error(),
			Suggestion: "PASSWORD_LENGTH must be an integer",
		}
	}
	return e, nil
}

// LoadDotEnv loads variables from a dotenv file without overriding ones
// already set.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return rerrors.ConfigError{
			Field:      "env-file",
			Value:      path,
			Message:    "failed to load env file: " + err.Error(),
			Suggestion: "Check the --env-file path and KEY=value syntax",
		}
	}
	return nil
}

// Apply overlays the variables that are set onto p.
func (e Env) Apply(p *password.Policy) {
	if e.PasswordLength.Set {
		p.Length = e.PasswordLength.Value
	}
	if e.ExcludeCharacters != "" {
		p.ExcludeCharacters = e.ExcludeCharacters
	}
	overlay := func(b Bool, dst *bool) {
		if b.Set {
			*dst = b.Value
		}
	}
	overlay(e.ExcludeNumbers, &p.ExcludeNumbers)
	overlay(e.ExcludePunctuation, &p.ExcludePunctuation)
	overlay(e.ExcludeUppercase, &p.ExcludeUppercase)
	overlay(e.ExcludeLowercase, &p.ExcludeLowercase)
	overlay(e.RequireEachIncludedType, &p.RequireEachIncludedType)
}
