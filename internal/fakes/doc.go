// Package fakes provides in-memory test doubles for the AWS clients and the
// PostgreSQL server pgrotate talks to.
//
// The Secrets Manager fake models staging labels and idempotent client request
// tokens. The RDS fake models instance and cluster endpoints and replica
// sources. FakeDatabase accepts logins for the roles it knows and applies
// credential writes made through its master role.
//
// Usage:
//
//	sm := fakes.NewFakeSecretsManagerClient()
//	sm.AddSecret("app/db", `{"engine":"postgres",...}`)
//	sm.RegisterVersion("app/db", token, "AWSPENDING")
//	store := secretstore.New(sm)
package fakes
