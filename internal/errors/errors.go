package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Rotation error taxonomy. Each type carries the secret and step it was raised
// for; Annotate fills them in on the way out of the orchestrator.

// ValidationError reports malformed or inconsistent secret data. Retrying
// without operator correction will fail the same way.
type ValidationError struct {
	SecretID string
	Step     string
	Message  string
	Err      error
}

func (e *ValidationError) Error() string { return format("validation failed", e.SecretID, e.Step, e.Message, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// AuthenticationError reports a credential the database rejected.
type AuthenticationError struct {
	SecretID string
	Step     string
	Message  string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return format("authentication failed", e.SecretID, e.Step, e.Message, e.Err)
}
func (e *AuthenticationError) Unwrap() error { return e.Err }

// DatabaseError reports a failed SQL statement. The statement text is never
// included since it may embed a quoted password literal.
type DatabaseError struct {
	SecretID string
	Step     string
	Message  string
	Err      error
}

func (e *DatabaseError) Error() string { return format("database error", e.SecretID, e.Step, e.Message, e.Err) }
func (e *DatabaseError) Unwrap() error { return e.Err }

// StoreError reports a failed secret store request. Steps are idempotent, so
// the whole step may be retried.
type StoreError struct {
	SecretID string
	Step     string
	Message  string
	Err      error
}

func (e *StoreError) Error() string { return format("secret store error", e.SecretID, e.Step, e.Message, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func format(kind, secretID, step, message string, err error) string {
	var b strings.Builder
	if step != "" {
		b.WriteString(step)
		b.WriteString(": ")
	}
	b.WriteString(kind)
	if secretID != "" {
		fmt.Fprintf(&b, " for secret %s", secretID)
	}
	if message != "" {
		b.WriteString(": ")
		b.WriteString(message)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Annotate sets the secret id and step on the first taxonomy error found in
// err's chain, leaving fields that are already set untouched.
func Annotate(err error, secretID, step string) error {
	if err == nil {
		return nil
	}

	fill := func(id, st *string) {
		if *id == "" {
			*id = secretID
		}
		if *st == "" {
			*st = step
		}
	}

	var ve *ValidationError
	var ae *AuthenticationError
	var de *DatabaseError
	var se *StoreError
	switch {
	case errors.As(err, &ve):
		fill(&ve.SecretID, &ve.Step)
	case errors.As(err, &ae):
		fill(&ae.SecretID, &ae.Step)
	case errors.As(err, &de):
		fill(&de.SecretID, &de.Step)
	case errors.As(err, &se):
		fill(&se.SecretID, &se.Step)
	default:
		return fmt.Errorf("%s: secret %s: %w", step, secretID, err)
	}
	return err
}

// Kind returns a short label for err suitable for metric labels.
func Kind(err error) string {
	var ve *ValidationError
	var ae *AuthenticationError
	var de *DatabaseError
	var se *StoreError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ae):
		return "authentication_error"
	case errors.As(err, &de):
		return "database_error"
	case errors.As(err, &se):
		return "store_error"
	default:
		return "error"
	}
}

// Sentinel causes wrapped inside a StoreError.
var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource already exists")
)

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StoreError
	if errors.As(err, &se) {
		return !errors.Is(err, ErrNotFound)
	}

	var ve *ValidationError
	var ae *AuthenticationError
	var de *DatabaseError
	if errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &de) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
