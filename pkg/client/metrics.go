package client

import (
	"regexp"
	"strconv"
	"strings"
)

var sampleLine = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:]*(?:\{[^}]*\})?)[\t ]+([0-9eE.+\-]+|NaN|[+-]Inf)`)

// ParsePrometheusText parses the Prometheus text exposition format into a map
// keyed by metric name including its label set. Comments and unparsable lines
// are skipped.
func ParsePrometheusText(text string) map[string]float64 {
	metrics := make(map[string]float64)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := sampleLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		metrics[m[1]] = v
	}
	return metrics
}
