package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are settings taken from the environment. They win over the
// configuration file.
type EnvOverrides struct {
	StateDir    string `env:"CREDROTATE_STATE_DIR"`
	TimeoutMs   int    `env:"CREDROTATE_TIMEOUT_MS"`
	MetricsAddr string `env:"CREDROTATE_METRICS_ADDR"`
}

// ParseEnv loads overrides from the process environment.
func ParseEnv() (EnvOverrides, error) {
	return parseEnv(nil)
}

func parseEnv(environ map[string]string) (EnvOverrides, error) {
	var o EnvOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// ApplyEnv copies non-empty overrides into d.
func (d *Definition) ApplyEnv(o EnvOverrides) {
	if o.StateDir != "" {
		d.StateDir = o.StateDir
	}
	if o.MetricsAddr != "" {
		d.MetricsAddr = o.MetricsAddr
	}
	if o.TimeoutMs > 0 {
		for name, spec := range d.Specs {
			spec.TimeoutMs = o.TimeoutMs
			d.Specs[name] = spec
		}
	}
}
