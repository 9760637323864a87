// Package descriptor loads request descriptors from YAML files.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/limiter"
)

// Spec is the YAML form of one request.
type Spec struct {
	Name       string            `yaml:"name"`
	BaseURL    string            `yaml:"base_url"`
	Path       string            `yaml:"path"`
	Method     string            `yaml:"method"`
	Headers    map[string]string `yaml:"headers"`
	JSON       bool              `yaml:"json"`
	Query      map[string]Values `yaml:"query"`
	ListParams []string          `yaml:"list_params"`
	Body       *BodySpec         `yaml:"body"`

	RateLimit *RateLimitSpec `yaml:"rate_limit"`
	Retry     *RetrySpec     `yaml:"retry"`
	CacheTTL  *time.Duration `yaml:"cache_ttl"`
	Timeout   time.Duration  `yaml:"timeout"`
}

// Values accepts a scalar or a sequence of scalars.
type Values []string

func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(Values, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: query values must be scalars", item.Line)
			}
			out = append(out, item.Value)
		}
		*v = out
		return nil
	default:
		return fmt.Errorf("line %d: query value must be a scalar or a list", node.Line)
	}
}

// BodySpec is either a raw string or a form map.
type BodySpec struct {
	Raw         string
	Form        map[string]string
	ContentType string
}

func (b *BodySpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		b.Raw = node.Value
		return nil
	case yaml.MappingNode:
		var shaped struct {
			Raw         string            `yaml:"raw"`
			Form        map[string]string `yaml:"form"`
			ContentType string            `yaml:"content_type"`
		}
		if err := node.Decode(&shaped); err != nil {
			return err
		}
		if shaped.Raw != "" || shaped.Form != nil || shaped.ContentType != "" {
			b.Raw, b.Form, b.ContentType = shaped.Raw, shaped.Form, shaped.ContentType
			return nil
		}
		// A bare mapping is a form.
		return node.Decode(&b.Form)
	default:
		return fmt.Errorf("line %d: body must be a string or a mapping", node.Line)
	}
}

// RateLimitSpec names a shared limiter, declares an inline one, or both.
type RateLimitSpec struct {
	Name           string `yaml:"name"`
	limiter.Config `yaml:",inline"`
}

// RetrySpec mirrors core.RetryPolicy.
type RetrySpec struct {
	Limit       int  `yaml:"limit"`
	OnRateLimit bool `yaml:"on_rate_limit"`
	OnTimeout   bool `yaml:"on_timeout"`
}

// Defaults fill fields a descriptor leaves unset.
type Defaults struct {
	Retry    core.RetryPolicy
	CacheTTL time.Duration
	Timeout  time.Duration
}

type file struct {
	Requests []Spec `yaml:"requests"`
}

// Parse reads one descriptor, or a document with a top-level requests list.
func Parse(r io.Reader) ([]Spec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("descriptor is empty")
	}

	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	if _, ok := probe["requests"]; ok {
		var f file
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse descriptor: %w", err)
		}
		if len(f.Requests) == 0 {
			return nil, errors.New("descriptor lists no requests")
		}
		return f.Requests, nil
	}

	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	return []Spec{spec}, nil
}

// Load parses a descriptor file.
func Load(path string) ([]Spec, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an explicit user argument
	if err != nil {
		return nil, fmt.Errorf("open descriptor: %w", err)
	}
	defer f.Close() // nolint:errcheck // read-only file

	specs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// Build turns a spec into a request. Named rate limits resolve against reg;
// a name with an inline type registers the limiter on first use.
func (s Spec) Build(reg *limiter.Registry, defaults Defaults, opts ...limiter.Option) (*core.Request, error) {
	method, err := core.ParseMethod(s.Method)
	if err != nil {
		return nil, err
	}

	req := &core.Request{
		Name:       strings.TrimSpace(s.Name),
		BaseURL:    strings.TrimSpace(s.BaseURL),
		Path:       s.Path,
		Method:     method,
		Headers:    map[string]string{},
		ListParams: append([]string(nil), s.ListParams...),
		Retry:      defaults.Retry,
		CacheTTL:   defaults.CacheTTL,
		Timeout:    defaults.Timeout,
	}
	if s.JSON {
		for key, value := range core.JSONHeaders() {
			req.Headers[key] = value
		}
	}
	for key, value := range s.Headers {
		req.Headers[key] = value
	}
	if len(s.Query) > 0 {
		req.Query = url.Values{}
		for _, key := range sortedKeys(s.Query) {
			req.Query[key] = append([]string(nil), s.Query[key]...)
		}
	}
	if s.Body != nil {
		req.Body = core.Body{Form: s.Body.Form, ContentType: s.Body.ContentType}
		if s.Body.Raw != "" {
			req.Body.Raw = []byte(s.Body.Raw)
		}
	}
	if s.Retry != nil {
		req.Retry = core.RetryPolicy{
			Limit:       s.Retry.Limit,
			OnRateLimit: s.Retry.OnRateLimit,
			OnTimeout:   s.Retry.OnTimeout,
		}
	}
	if req.Retry.Limit < 0 {
		return nil, fmt.Errorf("retry.limit must be >= 0")
	}
	if s.CacheTTL != nil {
		req.CacheTTL = *s.CacheTTL
	}
	if s.Timeout > 0 {
		req.Timeout = s.Timeout
	}

	if _, err := req.URL(); err != nil {
		return nil, err
	}

	strategy, err := s.resolveRateLimit(reg, opts)
	if err != nil {
		return nil, err
	}
	req.RateLimit = strategy
	return req, nil
}

func (s Spec) resolveRateLimit(reg *limiter.Registry, opts []limiter.Option) (*limiter.Strategy, error) {
	if s.RateLimit == nil {
		return nil, nil
	}

	name := strings.TrimSpace(s.RateLimit.Name)
	inline := s.RateLimit.Kind != ""

	if name == "" {
		if !inline {
			return nil, nil
		}
		return limiter.New(s.RateLimit.Config, opts...)
	}

	if reg == nil {
		return nil, fmt.Errorf("rate limit %q: no limiter registry", name)
	}
	if strategy, ok := reg.Get(name); ok {
		return strategy, nil
	}
	if !inline {
		return nil, fmt.Errorf("unknown rate limit %q", name)
	}

	strategy, err := limiter.New(s.RateLimit.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", name, err)
	}
	if err := reg.Register(name, strategy); err != nil {
		// Another descriptor registered it concurrently.
		if existing, ok := reg.Get(name); ok {
			return existing, nil
		}
		return nil, err
	}
	registered, _ := reg.Get(name)
	return registered, nil
}

// BuildAll builds every spec, stopping at the first error.
func BuildAll(specs []Spec, reg *limiter.Registry, defaults Defaults, opts ...limiter.Option) ([]*core.Request, error) {
	out := make([]*core.Request, 0, len(specs))
	for i, spec := range specs {
		req, err := spec.Build(reg, defaults, opts...)
		if err != nil {
			label := spec.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("request %s: %w", label, err)
		}
		out = append(out, req)
	}
	return out, nil
}

// ForURL builds a GET request for a raw URL, keeping its query parameters.
func ForURL(raw string, defaults Defaults) (*core.Request, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid url: %s", raw)
	}

	query := parsed.Query()
	parsed.RawQuery = ""
	parsed.Fragment = ""

	req := &core.Request{
		BaseURL:  parsed.String(),
		Method:   core.MethodGet,
		Retry:    defaults.Retry,
		CacheTTL: defaults.CacheTTL,
		Timeout:  defaults.Timeout,
	}
	if len(query) > 0 {
		req.Query = query
	}
	return req, nil
}

func sortedKeys(m map[string]Values) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
