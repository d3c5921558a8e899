// Package config loads service configuration from config.yml and the
// environment.
package config

import (
	"strings"
	"time"

	"github.com/gotify/configor"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Configuration struct {
	App struct {
		Port           int    `default:"8080" env:"PAYROLL_PORT"`
		// Comma-separated. Empty allows any origin.
		AllowedOrigins string `env:"PAYROLL_ALLOWED_ORIGINS"`
	}
	Database struct {
		Path string `default:"payroll.db" env:"PAYROLL_DB"`
	}
	Log struct {
		Level  string `default:"info" env:"PAYROLL_LOG_LEVEL"`
		Format string `default:"json" env:"PAYROLL_LOG_FORMAT"` // json | text
	}
	Payroll struct {
		// Square meters a verified measurement may exceed the claim by.
		DisputeToleranceM2 string `default:"0.5" env:"PAYROLL_DISPUTE_TOLERANCE"`
		RebuildWorkers     int    `default:"2" env:"PAYROLL_REBUILD_WORKERS"`
		RebuildQueue       int    `default:"256" env:"PAYROLL_REBUILD_QUEUE"`
		BatchConcurrency   int    `default:"4" env:"PAYROLL_BATCH_CONCURRENCY"`
		SweepInterval      string `default:"1h" env:"PAYROLL_SWEEP_INTERVAL"` // "0" disables
	}
}

// DefaultFiles is searched when no explicit file is given. Missing files
// are skipped.
var DefaultFiles = []string{"config.yml"}

// Load reads files (DefaultFiles when empty), then environment overrides,
// then defaults for anything still unset.
func Load(files ...string) (*Configuration, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	conf := new(Configuration)
	if err := configor.New(&configor.Config{}).Load(conf, files...); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if _, err := conf.DisputeTolerance(); err != nil {
		return nil, err
	}
	if _, err := conf.Sweep(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Origins splits App.AllowedOrigins.
func (c *Configuration) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.App.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// DisputeTolerance parses Payroll.DisputeToleranceM2.
func (c *Configuration) DisputeTolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Payroll.DisputeToleranceM2)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid dispute tolerance %q", c.Payroll.DisputeToleranceM2)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("dispute tolerance must not be negative, got %s", d)
	}
	return d, nil
}

// Sweep parses Payroll.SweepInterval. Zero disables the periodic sweep.
func (c *Configuration) Sweep() (time.Duration, error) {
	if c.Payroll.SweepInterval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Payroll.SweepInterval)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid sweep interval %q", c.Payroll.SweepInterval)
	}
	if d < 0 {
		return 0, errors.Errorf("sweep interval must not be negative, got %s", d)
	}
	return d, nil
}
