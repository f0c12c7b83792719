package repository

import (
	"github.com/spf13/afero"

	"github.com/okian/benchrec/pkg/logger"
)

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithFs sets the filesystem the result file lives on.
func WithFs(fsys afero.Fs) Option {
	return func(s *FileStore) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}
