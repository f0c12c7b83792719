// Package patch applies temporary, literal edits to the simulation's
// configuration files and restores them afterwards.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

const defaultFileMode fs.FileMode = 0o644

// Replacement substitutes every literal occurrence of Old with New.
type Replacement struct {
	Old string
	New string
}

// ConfigPatch edits one file. When Content is non-nil the file is written
// whole (and created if missing) instead of being edited.
type ConfigPatch struct {
	File         string
	Replacements []Replacement
	Content      []byte
}

// Snapshot holds what Restore needs to undo an Apply.
type Snapshot struct {
	order     []string
	originals map[string][]byte
	digests   map[string]uint64
	modes     map[string]fs.FileMode
	created   map[string]bool
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		originals: make(map[string][]byte),
		digests:   make(map[string]uint64),
		modes:     make(map[string]fs.FileMode),
		created:   make(map[string]bool),
	}
}

// Files lists the touched files in the order they were first patched.
func (s *Snapshot) Files() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

func (s *Snapshot) track(file string, original []byte, mode fs.FileMode, created bool) {
	if _, seen := s.originals[file]; seen || s.created[file] {
		return
	}
	s.order = append(s.order, file)
	if created {
		s.created[file] = true
		return
	}
	s.originals[file] = original
	s.digests[file] = xxh3.Hash(original)
	s.modes[file] = mode
}

// Option applies a configuration option to the Patcher.
type Option func(*Patcher)

// WithFs sets the filesystem patches are applied to.
func WithFs(fsys afero.Fs) Option {
	return func(p *Patcher) {
		if fsys != nil {
			p.fs = fsys
		}
	}
}

// WithStrict makes a missing original text an error instead of a no-op.
func WithStrict(strict bool) Option {
	return func(p *Patcher) {
		p.strict = strict
	}
}

// WithLogger sets the patcher's logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Patcher) {
		if l != nil {
			p.logger = l
		}
	}
}

// Patcher applies and restores ConfigPatches.
type Patcher struct {
	fs     afero.Fs
	strict bool
	logger logger.Logger
}

// New creates a Patcher on the OS filesystem.
func New(opts ...Option) *Patcher {
	p := &Patcher{
		fs:     afero.NewOsFs(),
		logger: logger.Get().Named("patch"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Apply applies patches in order and returns the snapshot to restore.
// On failure every file already written is restored before returning.
func (p *Patcher) Apply(ctx context.Context, patches []ConfigPatch) (*Snapshot, error) {
	snap := newSnapshot()
	for _, cp := range patches {
		if err := p.applyOne(ctx, snap, cp); err != nil {
			metrics.RecordPatchOperation("apply", "error")
			metrics.RecordErrorByComponent("patch", "apply")
			if rerr := p.Restore(ctx, snap); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return nil, fmt.Errorf("%w: %w", ErrPatch, err)
		}
	}
	metrics.RecordPatchOperation("apply", "ok")
	p.logger.Debug(ctx, "patches applied", logger.Int("files", len(snap.order)))
	return snap, nil
}

func (p *Patcher) applyOne(ctx context.Context, snap *Snapshot, cp ConfigPatch) error {
	current, mode, err := p.read(cp.File)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing && cp.Content != nil:
		if err := p.fs.MkdirAll(filepath.Dir(cp.File), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", cp.File, err)
		}
		snap.track(cp.File, nil, defaultFileMode, true)
	case err != nil:
		return fmt.Errorf("read %s: %w", cp.File, err)
	default:
		snap.track(cp.File, current, mode, false)
	}

	updated := cp.Content
	if updated == nil {
		text := string(current)
		for _, r := range cp.Replacements {
			if !strings.Contains(text, r.Old) {
				metrics.RecordPatchMissingSubstring()
				if p.strict {
					return fmt.Errorf("%w: %q in %s", ErrSubstringNotFound, r.Old, cp.File)
				}
				p.logger.Debug(ctx, "replacement matched nothing",
					logger.String("file", cp.File), logger.String("old", r.Old))
				continue
			}
			text = strings.ReplaceAll(text, r.Old, r.New)
		}
		updated = []byte(text)
	}

	if err := afero.WriteFile(p.fs, cp.File, updated, mode); err != nil {
		return fmt.Errorf("write %s: %w", cp.File, err)
	}
	return nil
}

func (p *Patcher) read(file string) ([]byte, fs.FileMode, error) {
	info, err := p.fs.Stat(file)
	if err != nil {
		return nil, defaultFileMode, err
	}
	b, err := afero.ReadFile(p.fs, file)
	if err != nil {
		return nil, defaultFileMode, err
	}
	return b, info.Mode().Perm(), nil
}

// Restore writes every original back, removes files the patches created and
// verifies the restored content. All files are attempted; errors are joined.
// A nil snapshot is a no-op.
func (p *Patcher) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	var errs []error
	for _, file := range snap.order {
		if snap.created[file] {
			if err := p.fs.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", file, err))
			}
			continue
		}
		if err := afero.WriteFile(p.fs, file, snap.originals[file], snap.modes[file]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", file, err))
			continue
		}
		got, err := afero.ReadFile(p.fs, file)
		if err != nil {
			errs = append(errs, fmt.Errorf("verify %s: %w", file, err))
			continue
		}
		if xxh3.Hash(got) != snap.digests[file] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrRestoreMismatch, file))
		}
	}

	if len(errs) > 0 {
		metrics.RecordPatchOperation("restore", "error")
		metrics.RecordErrorByComponent("patch", "restore")
		p.logger.Error(ctx, "restore incomplete", logger.Error(errors.Join(errs...)))
		return fmt.Errorf("%w: %w", ErrPatch, errors.Join(errs...))
	}
	metrics.RecordPatchOperation("restore", "ok")
	return nil
}
