package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/credrotate/internal/azureauth"
	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/credential"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultTimeoutMs        = 30000
	DefaultLoginLength      = 12
	DefaultRetryAttempts    = 4
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 10 * time.Second
	DefaultHistoryRetention = 90 * 24 * time.Hour
	DefaultMetricsAddr      = ":9464"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the credrotate.yaml structure
type Definition struct {
	Version          int                   `yaml:"version"`
	StateDir         string                `yaml:"state_dir,omitempty"`
	MetricsAddr      string                `yaml:"metrics_addr,omitempty"`
	HistoryRetention Duration              `yaml:"history_retention,omitempty"`
	Webhooks         []WebhookConfig       `yaml:"webhooks,omitempty"`
	Specs            map[string]SpecConfig `yaml:"specs"`
}

// SpecConfig declares one rotation spec
type SpecConfig struct {
	Interval     Duration           `yaml:"interval"`
	TimeoutMs    int                `yaml:"timeout_ms,omitempty"`
	Retry        RetryConfig        `yaml:"retry,omitempty"`
	Login        LoginConfig        `yaml:"login,omitempty"`
	Password     *credential.Policy `yaml:"password,omitempty"`
	SecretStore  SecretStoreConfig  `yaml:"secret_store"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Resources    []binder.Resource  `yaml:"resources"`
	Verify       *VerifyConfig      `yaml:"verify,omitempty"`
}

// RetryConfig bounds the retries of remote state refreshes
type RetryConfig struct {
	Attempts int      `yaml:"attempts,omitempty"`
	Delay    Duration `yaml:"delay,omitempty"`
	MaxDelay Duration `yaml:"max_delay,omitempty"`
}

// LoginConfig shapes generated logins
type LoginConfig struct {
	Length      int    `yaml:"length,omitempty"`
	ForcePrefix string `yaml:"force_prefix,omitempty"`
}

// SecretStoreConfig selects where passwords are kept
type SecretStoreConfig struct {
	Type      string `yaml:"type"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
	// Prefix is prepended to every secret name.
	Prefix string `yaml:"prefix,omitempty"`

	// keyring
	Service string `yaml:"service,omitempty"`

	// aws.secretsmanager
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// azure.keyvault
	VaultURL          string `yaml:"vault_url,omitempty"`
	azureauth.Options `yaml:",inline"`

	// gcp.secretmanager
	ProjectID       string `yaml:"project_id,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// ProvisioningConfig selects the provisioning backend
type ProvisioningConfig struct {
	Type string `yaml:"type"`

	// azure
	SubscriptionID    string `yaml:"subscription_id,omitempty"`
	ResourceGroup     string `yaml:"resource_group,omitempty"`
	azureauth.Options `yaml:",inline"`

	// local
	Dir string `yaml:"dir,omitempty"`
}

// VerifyConfig describes the post-apply login check
type VerifyConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

// WebhookConfig posts the outcome of rotation passes to an HTTP endpoint.
// Events filters by pass status (success, noop, failed); empty means success
// and failed.
type WebhookConfig struct {
	Name            string            `yaml:"name,omitempty"`
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Events          []string          `yaml:"events,omitempty"`
	PayloadTemplate string            `yaml:"payload_template,omitempty"`
	TimeoutMs       int               `yaml:"timeout_ms,omitempty"`
	Attempts        int               `yaml:"attempts,omitempty"`
	Delay           Duration          `yaml:"delay,omitempty"`
}

// Load reads, validates and parses the credrotate.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Run 'credrotate init' to create a new configuration file",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	overrides, err := ParseEnv()
	if err != nil {
		return err
	}
	def.ApplyEnv(overrides)

	if def.StateDir != "" && !filepath.IsAbs(def.StateDir) {
		def.StateDir = filepath.Join(filepath.Dir(c.Path), def.StateDir)
	}
	for name, spec := range def.Specs {
		if spec.Provisioning.Dir != "" && !filepath.IsAbs(spec.Provisioning.Dir) {
			spec.Provisioning.Dir = filepath.Join(filepath.Dir(c.Path), spec.Provisioning.Dir)
			def.Specs[name] = spec
		}
	}

	c.Definition = def
	return nil
}

// Parse validates data against the schema, decodes it and checks the result
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Intervals accept Go durations plus d and w units, e.g. '12h', '1d', '2w'",
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Spec returns the configuration of a named spec
func (c *Config) Spec(name string) (SpecConfig, error) {
	if c.Definition == nil {
		return SpecConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	spec, ok := c.Definition.Specs[name]
	if !ok {
		suggestion := "Check your credrotate.yaml for available specs"
		if names := c.Definition.SpecNames(); len(names) > 0 {
			suggestion = fmt.Sprintf("Available specs: %s", strings.Join(names, ", "))
		}
		return SpecConfig{}, dserrors.ConfigError{
			Field:      "spec",
			Value:      name,
			Message:    "spec not found",
			Suggestion: suggestion,
		}
	}
	return spec, nil
}

// SpecNames returns the configured spec names in sorted order
func (d *Definition) SpecNames() []string {
	names := make([]string, 0, len(d.Specs))
	for name := range d.Specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retention returns how long history entries are kept
func (d *Definition) Retention() time.Duration {
	if d.HistoryRetention <= 0 {
		return DefaultHistoryRetention
	}
	return d.HistoryRetention.Std()
}

// ListenAddr returns the metrics listen address
func (d *Definition) ListenAddr() string {
	if d.MetricsAddr == "" {
		return DefaultMetricsAddr
	}
	return d.MetricsAddr
}

// Validate checks the semantic rules the schema cannot express
func (d *Definition) Validate() error {
	if d.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your credrotate.yaml file",
		}
	}
	if d.HistoryRetention < 0 {
		return dserrors.ConfigError{
			Field:   "history_retention",
			Value:   d.HistoryRetention,
			Message: "history_retention must not be negative",
		}
	}
	for i, w := range d.Webhooks {
		if err := w.validate(fmt.Sprintf("webhooks[%d]", i)); err != nil {
			return err
		}
	}
	for _, name := range d.SpecNames() {
		if err := d.Specs[name].validate("specs." + name); err != nil {
			return err
		}
	}
	return nil
}

func (s SpecConfig) validate(field string) error {
	if s.Interval <= 0 {
		return dserrors.ConfigError{
			Field:      field + ".interval",
			Value:      s.Interval,
			Message:    "interval must be positive",
			Suggestion: "Use a value such as '12h', '1d' or '2w'",
			Err:        dserrors.ErrInvalidInterval,
		}
	}
	if s.TimeoutMs < 0 {
		return dserrors.ConfigError{
			Field:   field + ".timeout_ms",
			Value:   s.TimeoutMs,
			Message: "timeout_ms must not be negative",
		}
	}

	if err := s.Policy().Validate(); err != nil {
		return dserrors.ConfigError{
			Field:      field,
			Message:    err.Error(),
			Suggestion: dserrors.Suggest(err),
			Err:        err,
		}
	}

	if err := s.SecretStore.validate(field + ".secret_store"); err != nil {
		return err
	}
	if err := s.Provisioning.validate(field + ".provisioning"); err != nil {
		return err
	}

	g, err := binder.BuildGraph(s.Resources)
	if err == nil {
		_, err = g.Order()
	}
	if err != nil {
		suggestion := "Check resource names and depends_on entries"
		if errors.Is(err, dserrors.ErrCyclicDependency) {
			suggestion = dserrors.Suggest(err)
		}
		return dserrors.ConfigError{
			Field:      field + ".resources",
			Message:    err.Error(),
			Suggestion: suggestion,
			Err:        err,
		}
	}
	if s.Provisioning.Type == "azure" {
		for _, r := range s.Resources {
			if r.Type == "" || r.APIVersion == "" {
				return dserrors.ConfigError{
					Field:      field + ".resources." + r.Name,
					Message:    "azure resources need type and api_version",
					Suggestion: "Set e.g. type: Microsoft.DBforPostgreSQL/flexibleServers and api_version: \"2022-12-01\"",
				}
			}
		}
	}

	if s.Verify != nil && s.Verify.TimeoutMs < 0 {
		return dserrors.ConfigError{
			Field:   field + ".verify.timeout_ms",
			Value:   s.Verify.TimeoutMs,
			Message: "timeout_ms must not be negative",
		}
	}
	return nil
}

func (s SecretStoreConfig) validate(field string) error {
	switch s.Type {
	case "keyring", "gcp.secretmanager":
	case "aws.secretsmanager":
		if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
			return dserrors.ConfigError{
				Field:   field,
				Message: "access_key_id and secret_access_key must be set together",
			}
		}
	case "azure.keyvault":
		if s.VaultURL == "" {
			return dserrors.ConfigError{
				Field:      field + ".vault_url",
				Message:    "vault_url is required for Azure Key Vault",
				Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
			}
		}
		if err := s.Options.Validate(); err != nil {
			return dserrors.ConfigError{Field: field, Message: err.Error()}
		}
	default:
		return dserrors.ConfigError{
			Field:      field + ".type",
			Value:      s.Type,
			Message:    "unknown secret store type",
			Suggestion: "Use one of: keyring, aws.secretsmanager, azure.keyvault, gcp.secretmanager",
		}
	}
	return nil
}

func (p ProvisioningConfig) validate(field string) error {
	switch p.Type {
	case "local":
	case "azure":
		if p.SubscriptionID == "" || p.ResourceGroup == "" {
			return dserrors.ConfigError{
				Field:      field,
				Message:    "azure provisioning needs subscription_id and resource_group",
				Suggestion: "Run 'az account show' to find the subscription id",
			}
		}
		if err := p.Options.Validate(); err != nil {
			return dserrors.ConfigError{Field: field, Message: err.Error()}
		}
	default:
		return dserrors.ConfigError{
			Field:      field + ".type",
			Value:      p.Type,
			Message:    "unknown provisioning type",
			Suggestion: "Use 'azure' or 'local'",
		}
	}
	return nil
}

// Policy returns the credential policy of the spec
func (s SpecConfig) Policy() credential.CredentialPolicy {
	length := s.Login.Length
	if length <= 0 {
		length = DefaultLoginLength
	}
	login := credential.LoginPolicy(length)
	if s.Login.ForcePrefix != "" {
		login.ForcePrefix = s.Login.ForcePrefix
	}

	password := credential.DefaultPasswordPolicy()
	if s.Password != nil {
		password = *s.Password
	}
	return credential.CredentialPolicy{Login: login, Password: password}
}

// Timeout returns the per-call provisioning timeout
func (s SpecConfig) Timeout() time.Duration {
	return timeoutOrDefault(s.TimeoutMs)
}

// StoreTimeout returns the per-call secret store timeout
func (s SpecConfig) StoreTimeout() time.Duration {
	if s.SecretStore.TimeoutMs > 0 {
		return timeoutOrDefault(s.SecretStore.TimeoutMs)
	}
	return s.Timeout()
}

// VerifyTimeout returns the login check timeout
func (s SpecConfig) VerifyTimeout() time.Duration {
	if s.Verify != nil && s.Verify.TimeoutMs > 0 {
		return timeoutOrDefault(s.Verify.TimeoutMs)
	}
	return s.Timeout()
}

// RetryPolicy returns the refresh retry bounds with defaults applied
func (s SpecConfig) RetryPolicy() (attempts int, delay, maxDelay time.Duration) {
	attempts, delay, maxDelay = s.Retry.Attempts, s.Retry.Delay.Std(), s.Retry.MaxDelay.Std()
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultRetryMaxDelay
	}
	return attempts, delay, maxDelay
}

func timeoutOrDefault(ms int) time.Duration {
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

var webhookEvents = map[string]bool{"success": true, "noop": true, "failed": true}

func (w WebhookConfig) validate(field string) error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return dserrors.ConfigError{
			Field:      field + ".url",
			Value:      w.URL,
			Message:    "webhook url must be an absolute http or https URL",
			Suggestion: "Use e.g. https://hooks.example.com/credrotate",
		}
	}
	for _, e := range w.Events {
		if !webhookEvents[e] {
			return dserrors.ConfigError{
				Field:      field + ".events",
				Value:      e,
				Message:    "unknown webhook event",
				Suggestion: "Valid events: success, noop, failed",
			}
		}
	}
	if w.TimeoutMs < 0 || w.Attempts < 0 || w.Delay < 0 {
		return dserrors.ConfigError{
			Field:   field,
			Message: "timeout_ms, attempts and delay must not be negative",
		}
	}
	return nil
}
