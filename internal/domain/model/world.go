// Package model contains domain values passed between layers.
package model

import (
	"fmt"
	"strings"
)

// MetricKind decides how a benchmark value is rendered and what a timeout is worth.
type MetricKind string

// Supported metric kinds.
const (
	MetricTimeDuration MetricKind = "time-duration"
	MetricTimeSpeed    MetricKind = "time-speed"
	MetricPercent      MetricKind = "percent"
	MetricDistance     MetricKind = "distance"
)

// ParseMetricKind validates a metric name from configuration.
func ParseMetricKind(s string) (MetricKind, error) {
	switch k := MetricKind(strings.TrimSpace(s)); k {
	case MetricTimeDuration, MetricTimeSpeed, MetricPercent, MetricDistance:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// IsTime reports whether values of this kind are seconds.
func (k MetricKind) IsTime() bool {
	return k == MetricTimeDuration || k == MetricTimeSpeed
}

// WorldConfig is the immutable benchmark description shared by every run of a batch.
type WorldConfig struct {
	File        string
	MaxDuration float64 // seconds; the score of a time-duration run that times out
	Metric      MetricKind
}
