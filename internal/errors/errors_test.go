package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/pgrotate/internal/errors"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Secret id is required",
		Details:    "no --secret-id flag and no event file",
		Suggestion: "Pass --secret-id <arn>",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Secret id is required")
	assert.Contains(t, errMsg, "no --secret-id flag")
	assert.Contains(t, errMsg, "Pass --secret-id <arn>")
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "sslmode",
		Value:      "sometimes",
		Message:    "unsupported sslmode",
		Suggestion: "Use disable, require, verify-ca or verify-full",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "sslmode")
	assert.Contains(t, errMsg, "sometimes")
	assert.Contains(t, errMsg, "unsupported sslmode")
}

func TestTaxonomyErrorFormatting(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("pq: password authentication failed")
	err := &errors.AuthenticationError{
		SecretID: "arn:secret:app",
		Step:     "setSecret",
		Message:  "unable to log in with current credentials",
		Err:      cause,
	}

	assert.Equal(t,
		"setSecret: authentication failed for secret arn:secret:app: unable to log in with current credentials: pq: password authentication failed",
		err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	t.Run("fills missing context", func(t *testing.T) {
		err := errors.Annotate(errors.Validationf("host mismatch"), "secret-1", "setSecret")

		var ve *errors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "secret-1", ve.SecretID)
		assert.Equal(t, "setSecret", ve.Step)
	})

	t.Run("keeps existing context", func(t *testing.T) {
		inner := &errors.StoreError{SecretID: "master", Message: "get failed"}
		err := errors.Annotate(fmt.Errorf("fetching master: %w", inner), "secret-1", "setSecret")

		var se *errors.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "master", se.SecretID)
		assert.Equal(t, "setSecret", se.Step)
	})

	t.Run("wraps foreign errors", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := errors.Annotate(cause, "secret-1", "testSecret")

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "testSecret")
		assert.Contains(t, err.Error(), "secret-1")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, errors.Annotate(nil, "secret-1", "testSecret"))
	})
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "success"},
		{"validation", &errors.ValidationError{}, "validation_error"},
		{"authentication", &errors.AuthenticationError{}, "authentication_error"},
		{"database", fmt.Errorf("wrapped: %w", &errors.DatabaseError{}), "database_error"},
		{"store", &errors.StoreError{}, "store_error"},
		{"other", stderrors.New("other"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Kind(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"store failure", &errors.StoreError{Err: stderrors.New("InternalServiceError")}, true},
		{"store not found", &errors.StoreError{Err: errors.ErrNotFound}, false},
		{"validation", &errors.ValidationError{Message: "timeout in message"}, false},
		{"authentication", &errors.AuthenticationError{}, false},
		{"database", &errors.DatabaseError{}, false},
		{"plain timeout", stderrors.New("dial tcp: i/o timeout"), true},
		{"plain other", stderrors.New("syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.IsRetryable(tt.err))
		})
	}
}
