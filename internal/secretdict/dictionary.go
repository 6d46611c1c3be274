package secretdict

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	rerrors "github.com/systmms/pgrotate/internal/errors"
)

// JSON keys of a secret dictionary.
const (
	KeyHost      = "host"
	KeyPort      = "port"
	KeyUsername  = "username"
	KeyPassword  = "password"
	KeyEngine    = "engine"
	KeyDBName    = "dbname"
	KeyMasterARN = "masterarn"
)

const (
	DefaultPort   = 5432
	DefaultDBName = "postgres"

	MinPort = 1
	MaxPort = 65535
)

// SupportedEngines is the engine allowlist.
var SupportedEngines = []string{"postgres", "aurora-postgresql"}

var requiredKeys = []string{KeyHost, KeyUsername, KeyPassword, KeyEngine}

// Dictionary is the typed form of one secret version.
type Dictionary struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Engine    string
	DBName    string
	MasterARN string

	// Extra holds keys this package does not interpret, as raw JSON.
	Extra map[string]json.RawMessage
}

// ConnectionResolver fills in connection fields for a master secret that only
// carries an identity.
type ConnectionResolver interface {
	ResolveConnection(ctx context.Context, secretID string, d Dictionary) (Dictionary, error)
}

// Parse decodes and validates a secret payload.
func Parse(raw []byte) (Dictionary, error) {
	d, _, err := decode(raw)
	if err != nil {
		return Dictionary{}, err
	}
	if err := d.Validate(); err != nil {
		return Dictionary{}, err
	}
	return d, nil
}

// ParseMaster decodes a master secret. When the payload holds exactly a
// username and password and resolver is non-nil, the resolver supplies the
// connection fields before validation.
func ParseMaster(ctx context.Context, secretID string, raw []byte, resolver ConnectionResolver) (Dictionary, error) {
	d, keys, err := decode(raw)
	if err != nil {
		return Dictionary{}, err
	}

	if resolver != nil && identityOnly(keys) {
		d, err = resolver.ResolveConnection(ctx, secretID, d)
		if err != nil {
			return Dictionary{}, err
		}
	}

	if err := d.Validate(); err != nil {
		return Dictionary{}, err
	}
	return d, nil
}

func identityOnly(keys map[string]bool) bool {
	return len(keys) == 2 && keys[KeyUsername] && keys[KeyPassword]
}

func decode(raw []byte) (Dictionary, map[string]bool, error) {
	if !gjson.ValidBytes(raw) {
		return Dictionary{}, nil, rerrors.Validationf("secret is not valid JSON")
	}
	if err := checkShape(raw); err != nil {
		return Dictionary{}, nil, &rerrors.ValidationError{Message: err.Error()}
	}

	var d Dictionary
	keys := make(map[string]bool)
	var portErr error

	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		keys[key.Str] = true
		switch key.Str {
		case KeyHost:
			d.Host = value.Str
		case KeyUsername:
			d.Username = value.Str
		case KeyPassword:
			d.Password = value.Str
		case KeyEngine:
			d.Engine = value.Str
		case KeyDBName:
			d.DBName = value.Str
		case KeyMasterARN:
			d.MasterARN = value.Str
		case KeyPort:
			d.Port, portErr = parsePort(value)
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[key.Str] = json.RawMessage(value.Raw)
		}
		return true
	})

	if portErr != nil {
		return Dictionary{}, nil, &rerrors.ValidationError{Message: "invalid port", Err: portErr}
	}
	return d, keys, nil
}

func parsePort(value gjson.Result) (int, error) {
	var port int
	switch value.Type {
	case gjson.Number:
		port = int(value.Int())
	case gjson.String:
		n, err := strconv.Atoi(value.Str)
		if err != nil {
			return 0, err
		}
		port = n
	default:
		return 0, fmt.Errorf("unexpected port value %s", value.Raw)
	}
	if port < MinPort || port > MaxPort {
		return 0, fmt.Errorf("port %d is outside %d-%d", port, MinPort, MaxPort)
	}
	return port, nil
}

// Validate enforces the required fields and the engine allowlist. An empty
// string counts as missing.
func (d Dictionary) Validate() error {
	values := map[string]string{
		KeyHost:     d.Host,
		KeyUsername: d.Username,
		KeyPassword: d.Password,
		KeyEngine:   d.Engine,
	}
	for _, key := range requiredKeys {
		if values[key] == "" {
			return rerrors.Validationf("%s key is missing from secret JSON", key)
		}
	}

	if !IsSupportedEngine(d.Engine) {
		return rerrors.Validationf("database engine must be one of %s, got %q",
			strings.Join(SupportedEngines, ", "), d.Engine)
	}
	return nil
}

// IsSupportedEngine reports whether engine is in the allowlist.
func IsSupportedEngine(engine string) bool {
	for _, e := range SupportedEngines {
		if e == engine {
			return true
		}
	}
	return false
}

// Marshal encodes the dictionary back to JSON, including Extra keys.
func (d Dictionary) Marshal() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+7)
	for k, v := range d.Extra {
		out[k] = v
	}

	out[KeyHost] = d.Host
	out[KeyUsername] = d.Username
	out[KeyPassword] = d.Password
	out[KeyEngine] = d.Engine
	if d.Port != 0 {
		out[KeyPort] = d.Port
	}
	if d.DBName != "" {
		out[KeyDBName] = d.DBName
	}
	if d.MasterARN != "" {
		out[KeyMasterARN] = d.MasterARN
	}

	return json.Marshal(out)
}

// WithCredentials returns a copy of d with a new username and password.
func (d Dictionary) WithCredentials(username, password string) Dictionary {
	c := d
	c.Username = username
	c.Password = password
	if d.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// ConnectPort returns the port to dial.
func (d Dictionary) ConnectPort() int {
	if d.Port == 0 {
		return DefaultPort
	}
	return d.Port
}

// ConnectDBName returns the database to connect to.
func (d Dictionary) ConnectDBName() string {
	if d.DBName == "" {
		return DefaultDBName
	}
	return d.DBName
}

// String renders the connection identity without the password.
func (d Dictionary) String() string {
	return fmt.Sprintf("%s@%s:%d/%s (%s)", d.Username, d.Host, d.ConnectPort(), d.ConnectDBName(), d.Engine)
}

// GoString keeps %#v from printing the password.
func (d Dictionary) GoString() string {
	return "secretdict.Dictionary{" + d.String() + "}"
}
