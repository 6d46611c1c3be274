package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"gopkg.in/yaml.v3"

	"github.com/systmms/pgrotate/internal/database"
	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/logging"
)

// Defaults applied to fields the config file leaves unset.
const (
	DefaultSSLMode        = database.DefaultSSLMode
	DefaultConnectTimeout = database.DefaultConnectTimeout
	DefaultTimeout        = 2 * time.Minute
)

var sslModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Debug      bool
	NoColor    bool
	EnvFile    string
	Overrides  Overrides
	Definition *Definition
}

// Overrides are command-line values that take precedence over the file.
type Overrides struct {
	Region      string
	Endpoint    string
	LogFormat   string
	Pushgateway string
	Timeout     time.Duration
}

func (o Overrides) apply(d *Definition) {
	if o.Region != "" {
		d.Region = o.Region
	}
	if o.Endpoint != "" {
		d.Endpoint = o.Endpoint
	}
	if o.LogFormat != "" {
		d.LogFormat = o.LogFormat
	}
	if o.Pushgateway != "" {
		d.Pushgateway = o.Pushgateway
	}
	if o.Timeout != 0 {
		d.Timeout = o.Timeout
	}
}

// Definition represents the pgrotate.yaml structure
type Definition struct {
	Region          string        `yaml:"region,omitempty"`
	Profile         string        `yaml:"profile,omitempty"`
	Endpoint        string        `yaml:"endpoint,omitempty"`     // Secrets Manager endpoint override
	RDSEndpoint     string        `yaml:"rds_endpoint,omitempty"` // RDS endpoint override
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	SSLMode         string        `yaml:"sslmode,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	LogFormat       string        `yaml:"log_format,omitempty"`
	Pushgateway     string        `yaml:"pushgateway,omitempty"`
	PolicyParameter string        `yaml:"policy_parameter,omitempty"`
}

// Load reads and parses the config file. An empty Path yields the defaults.
func (c *Config) Load() error {
	def := Definition{}
	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return rerrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Check the --config path or omit it to run with defaults",
				}
			}
			return rerrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}

		if err := yaml.Unmarshal(data, &def); err != nil {
			return rerrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}
	}

	c.Overrides.apply(&def)
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) applyDefaults() {
	if d.SSLMode == "" {
		d.SSLMode = DefaultSSLMode
	}
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = DefaultConnectTimeout
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}
	if d.LogFormat == "" {
		d.LogFormat = string(logging.FormatConsole)
	}
}

// NewLogger builds the logger described by the loaded definition, writing to w.
func (c *Config) NewLogger(w io.Writer) *logging.Logger {
	format := logging.FormatConsole
	if c.Definition != nil {
		format = logging.ParseFormat(c.Definition.LogFormat)
	} else if c.Overrides.LogFormat != "" {
		format = logging.ParseFormat(c.Overrides.LogFormat)
	}
	return logging.NewWithWriter(w, format, c.Debug, c.NoColor)
}

// Validate checks field values.
func (d *Definition) Validate() error {
	if !sslModes[d.SSLMode] {
		return rerrors.ConfigError{
			Field:      "sslmode",
			Value:      d.SSLMode,
			Message:    "unsupported sslmode",
			Suggestion: "Use one of disable, allow, prefer, require, verify-ca, verify-full",
		}
	}
	if d.ConnectTimeout < 0 {
		return rerrors.ConfigError{Field: "connect_timeout", Value: d.ConnectTimeout, Message: "must not be negative"}
	}
	if d.Timeout < 0 {
		return rerrors.ConfigError{Field: "timeout", Value: d.Timeout, Message: "must not be negative"}
	}
	if d.LogFormat != string(logging.FormatConsole) && d.LogFormat != string(logging.FormatJSON) {
		return rerrors.ConfigError{
			Field:      "log_format",
			Value:      d.LogFormat,
			Message:    "unsupported log format",
			Suggestion: "Use 'console' or 'json'",
		}
	}
	if (d.AccessKeyID == "") != (d.SecretAccessKey == "") {
		return rerrors.ConfigError{
			Field:      "access_key_id",
			Message:    "access_key_id and secret_access_key must be set together",
			Suggestion: "Set both keys or remove both to use the default credential chain",
		}
	}
	return nil
}

// AWSConfig loads the SDK configuration for every AWS client.
func (d *Definition) AWSConfig(ctx context.Context) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	if d.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(d.Region))
	}
	if d.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(d.Profile))
	}
	if d.AccessKeyID != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.AccessKeyID, d.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, rerrors.UserError{
			Message:    "Failed to load AWS configuration",
			Details:    err.Error(),
			Suggestion: "Check AWS credentials, region and profile settings",
			Err:        err,
		}
	}
	if cfg.Region == "" {
		return aws.Config{}, rerrors.ConfigError{
			Field:      "region",
			Message:    "no AWS region configured",
			Suggestion: "Set 'region' in the config file, pass --region, or export AWS_REGION",
		}
	}
	return cfg, nil
}

// String describes the effective settings without credentials.
func (d *Definition) String() string {
	return fmt.Sprintf("region=%s endpoint=%s rds_endpoint=%s sslmode=%s connect_timeout=%s timeout=%s",
		d.Region, d.Endpoint, d.RDSEndpoint, d.SSLMode, d.ConnectTimeout, d.Timeout)
}
