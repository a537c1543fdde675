// Package source describes upstream sources and the work sets harvested from them.
package source

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the fetcher used for a source.
type Kind string

// Supported source kinds.
const (
	KindHTTP     Kind = "http"
	KindHeadless Kind = "headless"
	KindGemini   Kind = "gemini"
)

// Default per-attempt timeouts.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultListTimeout = 60 * time.Second
)

// Config declares how to build, send and interpret requests for one source.
type Config struct {
	Kind Kind `mapstructure:"kind"`
	// List marks bulk listing endpoints, which get the longer default timeout.
	List    bool              `mapstructure:"list"`
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Body    string            `mapstructure:"body"`
	Headers map[string]string `mapstructure:"headers"`
	// Input is the work-set file (json, jsonl, yaml or csv).
	Input    string   `mapstructure:"input"`
	IDFields []string `mapstructure:"id_fields"`
	// ResultPath is a dotted path into a JSON body, e.g. "data.people.0".
	ResultPath string `mapstructure:"result_path"`
	// ResultSelector is a CSS selector applied to HTML bodies.
	ResultSelector string        `mapstructure:"result_selector"`
	WaitSelector   string        `mapstructure:"wait_selector"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Validate checks that the source can be harvested.
func (c Config) Validate(name string) error {
	switch c.Kind {
	case KindHTTP, KindHeadless:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("sources.%s.url is required", name)
		}
	case KindGemini:
		if strings.TrimSpace(c.Body) == "" {
			return fmt.Errorf("sources.%s.body (the prompt) is required for gemini sources", name)
		}
	default:
		return fmt.Errorf("sources.%s.kind %q is not supported", name, c.Kind)
	}
	if c.ResultPath != "" && c.ResultSelector != "" {
		return fmt.Errorf("sources.%s: result_path and result_selector are mutually exclusive", name)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("sources.%s.timeout must be >= 0", name)
	}
	return nil
}

// EffectiveTimeout returns the configured timeout or the kind default.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	if c.List {
		return DefaultListTimeout
	}
	return DefaultTimeout
}

// EffectiveMethod returns the HTTP method, GET when a source has no body.
func (c Config) EffectiveMethod() string {
	if c.Method != "" {
		return strings.ToUpper(c.Method)
	}
	if c.Body != "" {
		return "POST"
	}
	return "GET"
}
