package container

import (
	"io"

	"github.com/okian/benchrec/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithRunID names containers after the run they belong to.
func WithRunID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.runID = id
		}
	}
}

// WithSweepImages adds images whose containers TerminateAll always kills,
// even when this manager did not start them.
func WithSweepImages(images ...string) Option {
	return func(m *Manager) {
		for _, img := range images {
			if img != "" {
				m.sweep[img] = struct{}{}
			}
		}
	}
}

// WithBuildOutput receives the image build progress stream.
func WithBuildOutput(w io.Writer) Option {
	return func(m *Manager) {
		if w != nil {
			m.buildOut = w
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
