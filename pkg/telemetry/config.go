package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultServiceName is reported when no service name is configured.
const DefaultServiceName = "coverage-converter"

// Config selects where conversion traces are exported.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP collector, either host:port or a URL. An http://
	// URL implies an insecure connection.
	Endpoint string
	// Protocol is grpc (default) or http/protobuf.
	Protocol string
	Headers  map[string]string
	Insecure bool

	// Sampler names an OTEL_TRACES_SAMPLER value; empty samples everything.
	Sampler    string
	SamplerArg string

	// Attributes are added to the trace resource, e.g. ci.pipeline=nightly.
	Attributes map[string]string
}

// envVars maps the standard OpenTelemetry variables onto Config fields.
var envVars = []struct {
	name  string
	apply func(c *Config, v string)
}{
	{"OTEL_ENABLED", func(c *Config, v string) { c.Enabled = parseBool(v) }},
	{"OTEL_SERVICE_NAME", func(c *Config, v string) { c.ServiceName = v }},
	{"OTEL_SERVICE_VERSION", func(c *Config, v string) { c.ServiceVersion = v }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, v string) { c.Endpoint = v }},
	{"OTEL_EXPORTER_OTLP_PROTOCOL", func(c *Config, v string) { c.Protocol = v }},
	{"OTEL_EXPORTER_OTLP_HEADERS", func(c *Config, v string) { c.Headers = mergePairs(c.Headers, v) }},
	{"OTEL_EXPORTER_OTLP_INSECURE", func(c *Config, v string) { c.Insecure = parseBool(v) }},
	{"OTEL_TRACES_SAMPLER", func(c *Config, v string) { c.Sampler = v }},
	{"OTEL_TRACES_SAMPLER_ARG", func(c *Config, v string) { c.SamplerArg = v }},
	{"OTEL_RESOURCE_ATTRIBUTES", func(c *Config, v string) { c.Attributes = mergePairs(c.Attributes, v) }},
}

// ApplyEnv returns c with every OTEL_* variable that getenv reports as set
// applied on top. Headers and resource attributes are merged key by key.
func (c Config) ApplyEnv(getenv func(string) string) Config {
	c.Headers = copyPairs(c.Headers)
	c.Attributes = copyPairs(c.Attributes)
	for _, ev := range envVars {
		if v := strings.TrimSpace(getenv(ev.name)); v != "" {
			ev.apply(&c, v)
		}
	}
	return c
}

// Validate reports unknown protocols, samplers and sampler ratios.
func (c Config) Validate() error {
	switch normalizeProtocol(c.Protocol) {
	case "grpc", "http":
	default:
		return fmt.Errorf("unsupported OTLP protocol: %s", c.Protocol)
	}
	if _, err := newSampler(c.Sampler, c.SamplerArg); err != nil {
		return err
	}
	return nil
}

func (c Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

func normalizeProtocol(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", "grpc":
		return "grpc"
	case "http", "http/protobuf":
		return "http"
	default:
		return p
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func copyPairs(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergePairs adds the comma-separated key=value pairs of s to m. Values may
// contain '='; entries without a key are ignored.
func mergePairs(m map[string]string, s string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		m[key] = strings.TrimSpace(value)
	}
	return m
}
