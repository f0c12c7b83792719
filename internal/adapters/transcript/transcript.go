// Package transcript keeps a zstd-compressed copy of each run's simulator output.
package transcript

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// Extension of transcript files.
const Extension = ".log.zst"

// ErrTranscript wraps transcript I/O failures.
var ErrTranscript = errors.New("transcript failed")

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

// Store creates and opens transcripts in a directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// New creates a Store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs(), dir: dir}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Path returns the transcript file of a run.
func (s *Store) Path(competitorID, runID string) string {
	return path.Join(s.dir, "competitor_"+competitorID+"-"+runID+Extension)
}

// Writer compresses everything written to it into one transcript file.
type Writer struct {
	path string
	file afero.File
	enc  *zstd.Encoder
}

// Create starts a new transcript for a run.
func (s *Store) Create(competitorID, runID string) (*Writer, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	p := s.Path(competitorID, runID)
	f, err := s.fs.Create(p)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrTranscript, p, err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	return &Writer{path: p, file: f, enc: enc}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

func (w *Writer) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

// Close flushes the compressed stream and closes the file.
func (w *Writer) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrTranscript, w.path, err)
	}
	return nil
}

// Open returns the plain content of a transcript. Files without the
// transcript extension are returned as they are.
func Open(fsys afero.Fs, name string) (io.ReadCloser, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTranscript, name, err)
	}
	if !strings.HasSuffix(name, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrTranscript, err)
	}
	return &reader{dec: dec, file: f}, nil
}

type reader struct {
	dec  *zstd.Decoder
	file afero.File
}

func (r *reader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *reader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
