package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler maps an OTEL_TRACES_SAMPLER name to a sampler. An empty name
// samples every conversion.
func newSampler(name, arg string) (trace.Sampler, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "always_on":
		return trace.AlwaysSample(), nil
	case "always_off":
		return trace.NeverSample(), nil
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample()), nil
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample()), nil
	case "traceidratio", "parentbased_traceidratio":
		ratio, err := parseRatio(arg)
		if err != nil {
			return nil, err
		}
		s := trace.TraceIDRatioBased(ratio)
		if strings.HasPrefix(n, "parentbased_") {
			s = trace.ParentBased(s)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported trace sampler: %s", name)
	}
}

// parseRatio reads a sampling ratio in [0, 1]; empty means 1.
func parseRatio(s string) (float64, error) {
	if s == "" {
		return 1, nil
	}
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 0, fmt.Errorf("invalid sampler ratio %q: want a number between 0 and 1", s)
	}
	return ratio, nil
}
