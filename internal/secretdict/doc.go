// Package secretdict models the JSON payload stored in each version of a
// rotated database secret.
//
// A Dictionary is a plain value. Parse enforces the required fields
// (host, username, password, engine) and the engine allowlist, and reports
// every problem as an *errors.ValidationError so callers can tell a malformed
// secret apart from a store or network failure. Keys the model does not know
// about are carried through Marshal unchanged, so a derived pending version
// keeps everything the operator put into the current one.
//
// Master secrets created by RDS often hold only a username and password.
// ParseMaster hands those to a ConnectionResolver to fill in the endpoint
// before validation.
package secretdict
