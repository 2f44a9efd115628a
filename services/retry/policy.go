// Package retry implements exponential-backoff retry scheduling for failed
// event deliveries, plus the redeliverer that turns due ledger entries back
// into published events.
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/opshub/exception-plane/models"
	"gopkg.in/yaml.v3"
)

// Policy controls the backoff for one event type.
// Delay for attempt n (0-based) is initial_delay_seconds * multiplier^n,
// capped at max_delay_seconds, optionally spread by +/- jitter fraction.
type Policy struct {
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	Multiplier          float64 `yaml:"multiplier"`
	MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
	Jitter              float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used when no per-type override is set
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		InitialDelaySeconds: 1.0,
		Multiplier:          2.0,
		MaxDelaySeconds:     300.0,
		Jitter:              0,
	}
}

// Delay computes the backoff before attempt retryCount (0-based).
func (p Policy) Delay(retryCount int) time.Duration {
	seconds := p.InitialDelaySeconds * math.Pow(p.Multiplier, float64(retryCount))
	if p.MaxDelaySeconds > 0 && seconds > p.MaxDelaySeconds {
		seconds = p.MaxDelaySeconds
	}
	if p.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		seconds = seconds * (1 + spread)
		if seconds < 0 {
			seconds = 0
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

// PolicySet maps event types to retry policies, with a default fallback
type PolicySet struct {
	Default   Policy                      `yaml:"default"`
	Overrides map[models.EventType]Policy `yaml:"overrides"`
}

// DefaultPolicySet returns a policy set with only the default policy
func DefaultPolicySet() PolicySet {
	return PolicySet{Default: DefaultPolicy()}
}

// For returns the policy for the given event type
func (ps PolicySet) For(eventType models.EventType) Policy {
	if p, ok := ps.Overrides[eventType]; ok {
		return p
	}
	return ps.Default
}

// Validate checks that every policy in the set is usable
func (ps PolicySet) Validate() error {
	if err := validatePolicy("default", ps.Default); err != nil {
		return err
	}
	for eventType, p := range ps.Overrides {
		if err := validatePolicy(string(eventType), p); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(name string, p Policy) error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry policy %q: max_retries must be >= 0", name)
	}
	if p.InitialDelaySeconds <= 0 {
		return fmt.Errorf("retry policy %q: initial_delay_seconds must be > 0", name)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy %q: multiplier must be >= 1", name)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry policy %q: jitter must be in [0, 1]", name)
	}
	return nil
}

// LoadPolicySet reads a policy set from a YAML file. Fields omitted from the
// default section fall back to DefaultPolicy values.
func LoadPolicySet(path string) (PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicySet{}, fmt.Errorf("failed to read retry policy file: %w", err)
	}
	ps := DefaultPolicySet()
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return PolicySet{}, fmt.Errorf("failed to parse retry policy file: %w", err)
	}
	if err := ps.Validate(); err != nil {
		return PolicySet{}, err
	}
	return ps, nil
}
