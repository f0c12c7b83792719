package monitor

import (
	"io"
	"time"

	"github.com/okian/benchrec/pkg/logger"
)

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithEcho sets where every simulator line is copied, unmodified.
func WithEcho(w io.Writer) Option {
	return func(m *Monitor) {
		if w != nil {
			m.echo = w
		}
	}
}

// WithDrainTimeout bounds how long output is consumed after a result.
// Zero stops reading as soon as the run resolves.
func WithDrainTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.drainTimeout = d
		}
	}
}

// WithWatchdog fails a run that has no result after d. Zero disables it.
func WithWatchdog(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.watchdog = d
		}
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxLineSize sets the longest accepted output line.
func WithMaxLineSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxLine = n
		}
	}
}
