package fakes

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/secretdict"
)

// FakeDatabase is an in-memory PostgreSQL server. It accepts logins for the
// roles it knows on the hosts it serves, and applies credential writes only
// through a handle opened by its master role.
type FakeDatabase struct {
	mu      sync.Mutex
	owners  map[*sql.DB]string
	Hosts   map[string]bool
	Roles   map[string]string // role name to password
	Members map[string]string // role created by a write to the role it inherits
	Master  string
	Applies int

	// ApplyErr, when set, fails every credential write.
	ApplyErr error
}

// NewFakeDatabase returns a server on host whose master role is master.
func NewFakeDatabase(host, master, masterPassword string) *FakeDatabase {
	return &FakeDatabase{
		owners:  make(map[*sql.DB]string),
		Hosts:   map[string]bool{host: true},
		Roles:   map[string]string{master: masterPassword},
		Members: make(map[string]string),
		Master:  master,
	}
}

// SetRole creates or updates a role's password.
func (f *FakeDatabase) SetRole(name, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roles[name] = password
}

// Password returns a role's password, or "" when the role does not exist.
func (f *FakeDatabase) Password(role string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Roles[role]
}

// Connect returns a sqlmock handle that answers one SELECT NOW().
func (f *FakeDatabase) Connect(_ context.Context, d secretdict.Dictionary) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pw, ok := f.Roles[d.Username]
	if !ok || pw != d.Password || !f.Hosts[d.Host] {
		return nil, &rerrors.AuthenticationError{Message: fmt.Sprintf("credentials for %s rejected by %s", d.Username, d.Host)}
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	mock.ExpectQuery("SELECT NOW").WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(time.Now()))
	f.owners[db] = d.Username
	return db, nil
}

// Apply sets pendingUsername's password, creating it as a member of
// currentUsername when it does not exist.
func (f *FakeDatabase) Apply(_ context.Context, db *sql.DB, currentUsername, pendingUsername, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	if f.owners[db] != f.Master {
		return &rerrors.DatabaseError{Message: "permission denied"}
	}
	if _, exists := f.Roles[pendingUsername]; !exists {
		f.Members[pendingUsername] = currentUsername
	}
	f.Roles[pendingUsername] = password
	f.Applies++
	return nil
}
