package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/logging"
)

var (
	quotedIdentifier = regexp.MustCompile(`^([a-z_][a-z0-9_$]*|"([^"]|"")+")$`)
	quotedLiteral    = regexp.MustCompile(`^E?'([^']|'')*'$`)
)

// CredentialWriter creates or updates the pending role using a privileged
// handle.
type CredentialWriter struct {
	logger *logging.Logger
}

// NewCredentialWriter creates a writer. A nil logger discards output.
func NewCredentialWriter(logger *logging.Logger) *CredentialWriter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CredentialWriter{logger: logger}
}

// Apply makes pendingUsername a login role with password inside one
// transaction. A new role is granted membership of currentUsername so it
// carries the same privileges; an existing role only has its password reset,
// so running Apply twice leaves the same end state.
//
// Identifiers and the password are quoted by the server through bound
// parameters. Statement text never appears in returned errors.
func (w *CredentialWriter) Apply(ctx context.Context, db *sql.DB, currentUsername, pendingUsername, password string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &rerrors.DatabaseError{Message: "failed to begin transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	pendingIdent, err := quote(ctx, tx, "SELECT quote_ident($1)", pendingUsername, quotedIdentifier)
	if err != nil {
		return &rerrors.DatabaseError{Message: "failed to quote pending username", Err: err}
	}
	currentIdent, err := quote(ctx, tx, "SELECT quote_ident($1)", currentUsername, quotedIdentifier)
	if err != nil {
		return &rerrors.DatabaseError{Message: "failed to quote current username", Err: err}
	}
	literal, err := quote(ctx, tx, "SELECT quote_literal($1)", password, quotedLiteral)
	if err != nil {
		return &rerrors.DatabaseError{Message: "failed to quote password", Err: err}
	}

	exists, err := roleExists(ctx, tx, pendingUsername)
	if err != nil {
		return &rerrors.DatabaseError{Message: "failed to look up pending role", Err: err}
	}

	if exists {
		if _, err := tx.ExecContext(ctx, "ALTER USER "+pendingIdent+" WITH PASSWORD "+literal); err != nil {
			return &rerrors.DatabaseError{Message: "failed to update password for " + pendingUsername, Err: sanitize(err, password)}
		}
	} else {
		if _, err := tx.ExecContext(ctx, "CREATE ROLE "+pendingIdent+" WITH LOGIN PASSWORD "+literal); err != nil {
			return &rerrors.DatabaseError{Message: "failed to create role " + pendingUsername, Err: sanitize(err, password)}
		}
		if _, err := tx.ExecContext(ctx, "GRANT "+currentIdent+" TO "+pendingIdent); err != nil {
			return &rerrors.DatabaseError{Message: "failed to grant " + currentUsername + " to " + pendingUsername, Err: sanitize(err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &rerrors.DatabaseError{Message: "failed to commit transaction", Err: err}
	}

	if exists {
		w.logger.Debug("Updated password for existing role %s", pendingUsername)
	} else {
		w.logger.Debug("Created role %s as member of %s", pendingUsername, currentUsername)
	}
	return nil
}

var errUnexpectedQuoting = errors.New("server returned an unexpected quoted form")

func quote(ctx context.Context, tx *sql.Tx, query, value string, shape *regexp.Regexp) (string, error) {
	var quoted string
	if err := tx.QueryRowContext(ctx, query, value).Scan(&quoted); err != nil {
		return "", sanitize(err, value)
	}
	if !shape.MatchString(quoted) {
		return "", errUnexpectedQuoting
	}
	return quoted, nil
}

func roleExists(ctx context.Context, tx *sql.Tx, rolname string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", rolname).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// sanitize reduces a server error to its condition name. Server messages can
// quote fragments of the statement, which may hold the password literal.
// Other errors have any of secrets masked.
func sanitize(err error, secrets ...string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("pq: %s (SQLSTATE %s)", pqErr.Code.Name(), pqErr.Code)
	}
	if msg := logging.Redact(err.Error(), secrets); msg != err.Error() {
		return errors.New(msg)
	}
	return err
}
