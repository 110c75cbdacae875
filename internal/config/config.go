// Package config loads the engine's YAML configuration file and applies
// defaults. Flags on the server binary override file values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	// Addr is the HTTPS admission listener address.
	Addr string `yaml:"addr"`

	// APIAddr is the plaintext listener for the query/author API and metrics.
	APIAddr string `yaml:"apiAddr"`

	// PolicyDir is the directory of template and constraint manifests.
	PolicyDir string `yaml:"policyDir"`

	// FailurePolicy is "fail-closed" (default) or "fail-open".
	FailurePolicy string `yaml:"failurePolicy"`

	// RequestBudget bounds total evaluation time per admission request.
	RequestBudget time.Duration `yaml:"requestBudget"`

	// ConstraintBudget bounds one constraint's evaluation time.
	ConstraintBudget time.Duration `yaml:"constraintBudget"`

	TLS   TLSConfig   `yaml:"tls"`
	Audit AuditConfig `yaml:"audit"`
}

// TLSConfig selects file-based certificates or self-signed management.
type TLSConfig struct {
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	SelfSigned bool   `yaml:"selfSigned"`

	// Namespace and ServiceName locate the webhook Secret and Service in
	// self-signed mode.
	Namespace   string `yaml:"namespace"`
	ServiceName string `yaml:"serviceName"`
}

// AuditConfig controls the audit scanner.
type AuditConfig struct {
	// Schedule is a cron expression; empty disables auditing.
	Schedule string `yaml:"schedule"`

	// Targets lists resource types to scan as [group/]version/resource.
	Targets []string `yaml:"targets"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:             ":8443",
		APIAddr:          ":8080",
		PolicyDir:        "/etc/shrike/policies",
		FailurePolicy:    "fail-closed",
		RequestBudget:    5 * time.Second,
		ConstraintBudget: 1 * time.Second,
		TLS: TLSConfig{
			SelfSigned:  true,
			Namespace:   "shrike-system",
			ServiceName: "shrike-webhook",
		},
		Audit: AuditConfig{
			Schedule: "@every 60s",
			Targets:  []string{"v1/pods", "apps/v1/deployments"},
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot serve.
func (c Config) Validate() error {
	switch c.FailurePolicy {
	case "fail-closed", "fail-open":
	default:
		return fmt.Errorf("invalid failurePolicy %q, want fail-closed or fail-open", c.FailurePolicy)
	}
	if c.RequestBudget <= 0 {
		return fmt.Errorf("requestBudget must be positive")
	}
	if c.ConstraintBudget <= 0 {
		return fmt.Errorf("constraintBudget must be positive")
	}
	if c.ConstraintBudget > c.RequestBudget {
		return fmt.Errorf("constraintBudget %s exceeds requestBudget %s", c.ConstraintBudget, c.RequestBudget)
	}
	if c.PolicyDir == "" {
		return fmt.Errorf("policyDir is required")
	}
	return nil
}
