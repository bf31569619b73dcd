// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if c.Gateway.FreshnessWindow <= 0 {
		missing = append(missing, "FRESHNESS_WINDOW")
	}
	if c.Replay.SweepInterval <= 0 {
		missing = append(missing, "REPLAY_SWEEP_INTERVAL")
	}
	if c.Verifier.Timeout <= 0 {
		missing = append(missing, "VERIFIER_TIMEOUT")
	}
	if c.Replay.Backend == "redis" && strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Receipt.SigningKey) == "" &&
		strings.TrimSpace(c.Receipt.SigningKeyFile) == "" &&
		!c.Receipt.AllowEphemeralKey {
		missing = append(missing, "RECEIPT_SIGNING_KEY")
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		missing = append(missing, "TLS_CERT_FILE/TLS_KEY_FILE")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.Replay.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported REPLAY_BACKEND %q", c.Replay.Backend)
	}

	switch c.Verifier.Backend {
	case "noir", "groth16":
	case "mock":
		if !c.Verifier.MockEnabled {
			return fmt.Errorf("VERIFIER_BACKEND=mock requires VERIFIER_MOCK_ENABLED=true")
		}
	default:
		return fmt.Errorf("unsupported VERIFIER_BACKEND %q", c.Verifier.Backend)
	}

	return nil
}
