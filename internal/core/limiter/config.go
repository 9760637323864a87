package limiter

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects a limiter strategy.
type Kind string

const (
	KindNone       Kind = "none"
	KindFixedDelay Kind = "fixed_delay"
	KindDebounce   Kind = "debounce"
	KindFrequency  Kind = "frequency"
)

// ParseKind normalizes a strategy name. Empty input maps to KindNone.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return KindNone, nil
	case "fixed_delay", "fixed-delay", "timed", "delay":
		return KindFixedDelay, nil
	case "debounce", "single_future", "single-future":
		return KindDebounce, nil
	case "frequency", "per_frequency", "per-frequency":
		return KindFrequency, nil
	default:
		return "", fmt.Errorf("unknown rate limit type: %s", value)
	}
}

// Backend selects how a frequency limiter enforces its rate.
type Backend string

const (
	// BackendWindow keeps start timestamps for the last interval.
	BackendWindow Backend = "window"
	// BackendTokenBucket spaces starts interval/limit apart through a single-token
	// bucket. The rate is smoothed and keeps the same per-interval bound.
	BackendTokenBucket Backend = "token_bucket"
)

// Config is the immutable description of a strategy:
// None | FixedDelay{Interval} | Debounce{WaitTime} | Frequency{Requests, Interval}.
type Config struct {
	Kind     Kind          `mapstructure:"type" json:"type" yaml:"type"`
	Interval time.Duration `mapstructure:"interval" json:"interval,omitempty" yaml:"interval,omitempty"`
	WaitTime time.Duration `mapstructure:"wait_time" json:"wait_time,omitempty" yaml:"wait_time,omitempty"`
	Requests int           `mapstructure:"requests" json:"requests,omitempty" yaml:"requests,omitempty"`
	Backend  Backend       `mapstructure:"backend" json:"backend,omitempty" yaml:"backend,omitempty"`
}

// FixedDelay returns a fixed-delay config.
func FixedDelay(interval time.Duration) Config {
	return Config{Kind: KindFixedDelay, Interval: interval}
}

// Debounced returns a debounce config.
func Debounced(wait time.Duration) Config {
	return Config{Kind: KindDebounce, WaitTime: wait}
}

// PerInterval returns a frequency config allowing requests per interval.
func PerInterval(requests int, interval time.Duration) Config {
	return Config{Kind: KindFrequency, Requests: requests, Interval: interval}
}

// Normalized resolves kind and backend aliases.
func (c Config) Normalized() (Config, error) {
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return c, err
	}
	c.Kind = kind

	switch strings.ToLower(strings.TrimSpace(string(c.Backend))) {
	case "":
		c.Backend = ""
	case "window", "sliding_window", "sliding-window":
		c.Backend = BackendWindow
	case "token_bucket", "token-bucket", "bucket":
		c.Backend = BackendTokenBucket
	default:
		return c, fmt.Errorf("unknown frequency backend: %s", c.Backend)
	}
	return c, nil
}

// Validate checks the fields required by the selected kind.
func (c Config) Validate() error {
	switch c.Kind {
	case "", KindNone:
		return nil
	case KindFixedDelay:
		if c.Interval <= 0 {
			return fmt.Errorf("fixed_delay requires a positive interval")
		}
	case KindDebounce:
		if c.WaitTime <= 0 {
			return fmt.Errorf("debounce requires a positive wait_time")
		}
	case KindFrequency:
		if c.Requests < 1 {
			return fmt.Errorf("frequency requires requests >= 1")
		}
		if c.Interval <= 0 {
			return fmt.Errorf("frequency requires a positive interval")
		}
		switch c.Backend {
		case "", BackendWindow, BackendTokenBucket:
		default:
			return fmt.Errorf("unknown frequency backend: %s", c.Backend)
		}
	default:
		return fmt.Errorf("unknown rate limit type: %s", c.Kind)
	}
	return nil
}
