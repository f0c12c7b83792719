// Package performance turns run outcomes into the rendered values persisted
// for each competitor.
package performance

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/benchrec/internal/domain/model"
)

const (
	// FailureText is rendered for a zero raw value whatever the metric.
	FailureText = "failure"

	dateLayout = "2006-01-02"
)

// Option applies a configuration option to the Formatter.
type Option func(*Formatter)

// WithClock sets the source of the record date.
func WithClock(now func() time.Time) Option {
	return func(f *Formatter) {
		if now != nil {
			f.now = now
		}
	}
}

// Formatter renders outcomes. It is stateless apart from its clock.
type Formatter struct {
	now func() time.Time
}

// New creates a Formatter using the wall clock.
func New(opts ...Option) *Formatter {
	f := &Formatter{now: time.Now}

	// Apply all options
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Format resolves the raw value of an outcome and renders it for world's metric.
//
// A successful run keeps its value, a timed-out time-duration run is scored
// at MaxDuration, and everything else is worth 0.
func (f *Formatter) Format(outcome model.RunOutcome, world model.WorldConfig) (model.Formatted, error) {
	raw := RawValue(outcome, world)
	rendered, err := Render(raw, world.Metric)
	if err != nil {
		return model.Formatted{}, err
	}
	return model.Formatted{
		RawValue: raw,
		Rendered: rendered,
		Date:     f.now().UTC().Format(dateLayout),
	}, nil
}

// RawValue applies the outcome-to-value policy.
func RawValue(outcome model.RunOutcome, world model.WorldConfig) float64 {
	switch outcome.Kind() {
	case model.OutcomeSuccess:
		v, _ := outcome.Value()
		return v
	case model.OutcomeTimeout:
		if world.Metric == model.MetricTimeDuration {
			return world.MaxDuration
		}
	}
	return 0
}

// Render formats a raw value for a metric kind.
func Render(v float64, metric model.MetricKind) (string, error) {
	if _, err := model.ParseMetricKind(string(metric)); err != nil {
		return "", err
	}
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return FailureText, nil
	}
	switch metric {
	case model.MetricTimeDuration, model.MetricTimeSpeed:
		if v < 0 {
			return FailureText, nil
		}
		return clock(v), nil
	case model.MetricPercent:
		return fmt.Sprintf("%.2f%%", v*100), nil
	default:
		return fmt.Sprintf("%.3f m.", v), nil
	}
}

// clock renders seconds as MM.SS.CC, truncating below a centisecond.
func clock(seconds float64) string {
	// The epsilon absorbs binary representation error (e.g. 0.29*100).
	cs := int64(math.Floor(seconds*100 + 1e-6))
	return fmt.Sprintf("%02d.%02d.%02d", cs/6000, (cs/100)%60, cs%100)
}
