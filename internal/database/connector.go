// Package database opens PostgreSQL connections for secret dictionaries and
// applies pending credentials to the database.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/secretdict"
)

const (
	DefaultSSLMode        = "require"
	DefaultConnectTimeout = 5 * time.Second
)

// Options configure PostgresConnector.
type Options struct {
	SSLMode        string        `yaml:"sslmode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Opener opens a database handle for a DSN. Tests substitute sqlmock.
type Opener func(dsn string) (*sql.DB, error)

// PostgresConnector opens one lib/pq handle per call.
type PostgresConnector struct {
	opts Options
	open Opener
}

// ConnectorOption is a functional option for configuring the connector
type ConnectorOption func(*PostgresConnector)

// WithOpener replaces sql.Open (for testing)
func WithOpener(open Opener) ConnectorOption {
	return func(c *PostgresConnector) {
		c.open = open
	}
}

// NewPostgresConnector creates a connector. Zero option fields take defaults.
func NewPostgresConnector(opts Options, options ...ConnectorOption) *PostgresConnector {
	if opts.SSLMode == "" {
		opts.SSLMode = DefaultSSLMode
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	c := &PostgresConnector{
		opts: opts,
		open: func(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) },
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Connect opens and pings a single-connection handle using the credentials in
// d. Any failure is an AuthenticationError and leaves no handle open. Callers
// close the returned handle.
func (c *PostgresConnector) Connect(ctx context.Context, d secretdict.Dictionary) (*sql.DB, error) {
	db, err := c.open(c.dsn(d))
	if err != nil {
		return nil, &rerrors.AuthenticationError{Message: "unable to open database handle", Err: err}
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify(d, err)
	}
	return db, nil
}

func classify(d secretdict.Dictionary, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28P01", "28000":
			return &rerrors.AuthenticationError{
				Message: fmt.Sprintf("credentials for %s rejected by %s", d.Username, d.Host),
				Err:     err,
			}
		}
	}
	return &rerrors.AuthenticationError{
		Message: fmt.Sprintf("unable to connect to %s as %s", d.Host, d.Username),
		Err:     err,
	}
}

// dsn builds a lib/pq keyword/value connection string with every value quoted.
func (c *PostgresConnector) dsn(d secretdict.Dictionary) string {
	timeout := int(c.opts.ConnectTimeout / time.Second)
	if timeout < 1 {
		timeout = 1
	}

	parts := []string{
		"host=" + quoteValue(d.Host),
		"port=" + strconv.Itoa(d.ConnectPort()),
		"dbname=" + quoteValue(d.ConnectDBName()),
		"user=" + quoteValue(d.Username),
		"password=" + quoteValue(d.Password),
		"sslmode=" + quoteValue(c.opts.SSLMode),
		"connect_timeout=" + strconv.Itoa(timeout),
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Probe runs a trivial query to prove the handle can execute statements.
func Probe(ctx context.Context, db *sql.DB) error {
	var now time.Time
	if err := db.QueryRowContext(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return &rerrors.DatabaseError{Message: "SELECT NOW() failed", Err: err}
	}
	return nil
}
