package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/approvalflow/internal/auth"
)

type Config struct {
	ListenAddr string           `yaml:"listen_addr"`
	DB         DBConfig         `yaml:"db"`
	PolicyPath string           `yaml:"policy_path"`
	Tokens     []TokenConfig    `yaml:"tokens"`
	Escalation EscalationConfig `yaml:"escalation"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type TokenConfig struct {
	Token        string   `yaml:"token"`
	UserID       string   `yaml:"user_id"`
	DisplayName  string   `yaml:"display_name"`
	Capabilities []string `yaml:"capabilities"`
}

// EscalationConfig controls the optional background sweep. SLA and
// escalation state are derived on every read either way; the sweep only
// persists the flag and writes the log entry.
type EscalationConfig struct {
	SweepEnabled         bool `yaml:"sweep_enabled"`
	SweepIntervalSeconds int  `yaml:"sweep_interval_seconds"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}

	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	for i, token := range c.Tokens {
		if token.Token == "" {
			return fmt.Errorf("tokens[%d].token is required", i)
		}
		if token.UserID == "" {
			return fmt.Errorf("tokens[%d].user_id is required", i)
		}
		for _, capability := range token.Capabilities {
			switch auth.Capability(capability) {
			case auth.CapView, auth.CapRequest, auth.CapApprove, auth.CapOverride:
			default:
				return fmt.Errorf("tokens[%d]: unknown capability %q", i, capability)
			}
		}
	}

	if c.Escalation.SweepEnabled && c.Escalation.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("escalation.sweep_interval_seconds must be positive when sweep_enabled=true")
	}

	return nil
}

// TokenTable converts the configured tokens into the authenticator's map.
func (c Config) TokenTable() map[string]auth.TokenEntry {
	out := make(map[string]auth.TokenEntry, len(c.Tokens))
	for _, token := range c.Tokens {
		caps := make([]auth.Capability, 0, len(token.Capabilities))
		for _, capability := range token.Capabilities {
			caps = append(caps, auth.Capability(capability))
		}
		out[token.Token] = auth.TokenEntry{
			UserID:       token.UserID,
			DisplayName:  token.DisplayName,
			Capabilities: caps,
		}
	}
	return out
}
