// Package artifacts moves the recorder's output into per-competitor storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

// Canonical names inside a competitor's storage directory.
const (
	AnimationFile = "animation.json"
	SceneFile     = "scene.x3d"
	dirPrefix     = "wb_animation_"
)

// ErrArtifacts wraps every storage failure.
var ErrArtifacts = errors.New("artifact storage failed")

// Moved summarizes one competitor's collected files.
type Moved struct {
	Dir       string
	Animation bool
	Scene     bool
	Other     int
	Discarded int
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithFs sets the filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// Store owns the storage directory.
type Store struct {
	fs           afero.Fs
	storageDir   string
	animationDir string
	logger       logger.Logger
}

// New creates a Store moving files from animationDir into storageDir.
func New(storageDir, animationDir string, opts ...Option) *Store {
	s := &Store{
		fs:           afero.NewOsFs(),
		storageDir:   storageDir,
		animationDir: animationDir,
		logger:       logger.Get().Named("artifacts"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// DirFor returns the storage directory of a competitor.
func (s *Store) DirFor(competitorID string) string {
	return path.Join(s.storageDir, dirPrefix+competitorID)
}

// Clear removes everything inside the storage directory.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := afero.ReadDir(s.fs, s.storageDir)
	if err != nil {
		if exists, _ := afero.DirExists(s.fs, s.storageDir); !exists {
			return nil
		}
		return fmt.Errorf("%w: list %s: %w", ErrArtifacts, s.storageDir, err)
	}
	for _, e := range entries {
		if err := s.fs.RemoveAll(path.Join(s.storageDir, e.Name())); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrArtifacts, e.Name(), err)
		}
	}
	s.logger.Info(ctx, "storage cleared", logger.Int("entries", len(entries)))
	return nil
}

// Replace recreates the competitor's storage directory from the files the
// recorder wrote as <controllerName>.*: .json becomes animation.json, .x3d
// becomes scene.x3d, .html and .css are dropped, anything else keeps its name.
func (s *Store) Replace(ctx context.Context, competitorID, controllerName string) (Moved, error) {
	dest := s.DirFor(competitorID)
	moved := Moved{Dir: dest}

	if err := s.fs.RemoveAll(dest); err != nil {
		return moved, fmt.Errorf("%w: reset %s: %w", ErrArtifacts, dest, err)
	}
	if err := s.fs.MkdirAll(dest, 0o755); err != nil {
		return moved, fmt.Errorf("%w: create %s: %w", ErrArtifacts, dest, err)
	}

	matches, err := afero.Glob(s.fs, path.Join(s.animationDir, controllerName+".*"))
	if err != nil {
		return moved, fmt.Errorf("%w: %w", ErrArtifacts, err)
	}
	for _, src := range matches {
		ext := strings.ToLower(path.Ext(src))
		var target string
		switch ext {
		case ".html", ".css":
			if err := s.fs.Remove(src); err != nil {
				return moved, fmt.Errorf("%w: discard %s: %w", ErrArtifacts, src, err)
			}
			moved.Discarded++
			metrics.RecordArtifact("discarded")
			continue
		case ".json":
			target = AnimationFile
			moved.Animation = true
			metrics.RecordArtifact("animation")
		case ".x3d":
			target = SceneFile
			moved.Scene = true
			metrics.RecordArtifact("scene")
		default:
			target = path.Base(src)
			moved.Other++
			metrics.RecordArtifact("other")
		}
		if err := s.move(src, path.Join(dest, target)); err != nil {
			return moved, fmt.Errorf("%w: move %s: %w", ErrArtifacts, src, err)
		}
	}

	if !moved.Animation {
		s.logger.Warn(ctx, "no animation recorded", logger.String("competitor", competitorID))
	}
	s.logger.Info(ctx, "artifacts stored",
		logger.String("competitor", competitorID),
		logger.String("dir", dest),
		logger.Bool("animation", moved.Animation),
		logger.Bool("scene", moved.Scene),
	)
	return moved, nil
}

// RemoveAll deletes a scratch directory such as the work dir.
func (s *Store) RemoveAll(dir string) error {
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrArtifacts, dir, err)
	}
	return nil
}

// move renames src, copying when a rename is not possible (e.g. across devices).
func (s *Store) move(src, dst string) error {
	if err := s.fs.Rename(src, dst); err == nil {
		return nil
	}
	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := s.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return s.fs.Remove(src)
}
