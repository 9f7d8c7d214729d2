package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Downstream dependency names.  Each one gets its own circuit breaker.
const (
	DepVehicle   = "vehicle"
	DepTicketing = "ticketing"
	DepPayment   = "payment"
)

// Dependencies lists every dependency the parking service calls.
var Dependencies = []string{DepVehicle, DepTicketing, DepPayment}

// GatePolicy controls retries and circuit breaking for one dependency.
// RetryDelay is the minimum pause between attempts and must be positive.
type GatePolicy struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Validate rejects policies that would retry without pause or never trip.
func (p GatePolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	case p.AttemptTimeout <= 0:
		return fmt.Errorf("attempt_timeout must be positive")
	case p.RetryDelay <= 0:
		return fmt.Errorf("retry_delay must be positive")
	case p.FailureThreshold < 1:
		return fmt.Errorf("failure_threshold must be >= 1, got %d", p.FailureThreshold)
	case p.Cooldown <= 0:
		return fmt.Errorf("cooldown must be positive")
	}
	return nil
}

// DefaultGatePolicy builds the policy shared by all dependencies from
// GATE_* environment variables.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		MaxAttempts:      envInt("GATE_MAX_ATTEMPTS", 3),
		AttemptTimeout:   envDur("GATE_ATTEMPT_TIMEOUT", 2*time.Second),
		RetryDelay:       envDur("GATE_RETRY_DELAY", 200*time.Millisecond),
		FailureThreshold: envInt("GATE_FAILURE_THRESHOLD", 5),
		FailureWindow:    envDur("GATE_FAILURE_WINDOW", time.Minute),
		Cooldown:         envDur("GATE_COOLDOWN", 30*time.Second),
	}
}

// LoadGatePolicies returns one policy per dependency.  The defaults come
// from the environment; GATE_POLICY_FILE may point at a YAML document
// keyed by dependency name whose entries override individual fields:
//
//	payment:
//	  max_attempts: 2
//	  attempt_timeout: 5s
func LoadGatePolicies() (map[string]GatePolicy, error) {
	return loadGatePolicies(DefaultGatePolicy(), os.Getenv("GATE_POLICY_FILE"))
}

func loadGatePolicies(def GatePolicy, path string) (map[string]GatePolicy, error) {
	out := make(map[string]GatePolicy, len(Dependencies))
	for _, name := range Dependencies {
		out[name] = def
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read gate policy file: %w", err)
		}
		var doc map[string]yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse gate policy file: %w", err)
		}
		for name, node := range doc {
			p, ok := out[name]
			if !ok {
				return nil, fmt.Errorf("gate policy file: unknown dependency %q", name)
			}
			if err := node.Decode(&p); err != nil {
				return nil, fmt.Errorf("gate policy %s: %w", name, err)
			}
			out[name] = p
		}
	}
	for name, p := range out {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("gate policy %s: %w", name, err)
		}
	}
	return out, nil
}
