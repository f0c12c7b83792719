package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/pkg/logger"
)

// FileStore keeps the result set in a text file such as competitors.txt.
// Lines are kept verbatim unless their competitor is rewritten.
type FileStore struct {
	fs     afero.Fs
	path   string
	logger logger.Logger

	mu    sync.RWMutex
	lines []string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store for path on the OS filesystem.
func NewFileStore(path string, opts ...Option) *FileStore {
	s := &FileStore{
		fs:     afero.NewOsFs(),
		path:   path,
		logger: logger.Get().Named("repository"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load reads the file.
func (s *FileStore) Load(ctx context.Context) error {
	b, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.lines = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrStore, s.path, err)
	}

	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}

	s.mu.Lock()
	s.lines = lines
	s.mu.Unlock()
	s.logger.Debug(ctx, "results loaded", logger.String("file", s.path), logger.Int("lines", len(lines)))
	return nil
}

// Get returns the entry of competitorID. A duplicated id resolves to its
// last line.
func (s *FileStore) Get(_ context.Context, competitorID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.lines) - 1; i >= 0; i-- {
		if lineID(s.lines[i]) == competitorID {
			return entryFor(s.lines[i]), nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, competitorID)
}

// All returns every entry in file order.
func (s *FileStore) All(_ context.Context) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.lines))
	for _, l := range s.lines {
		out = append(out, entryFor(l))
	}
	return out
}

// Upsert replaces the first line of the record's competitor and drops any
// later duplicates. A competitor with no line yet is appended.
func (s *FileStore) Upsert(ctx context.Context, rec model.PerformanceRecord) error {
	line := rec.Line()
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	kept := s.lines[:0]
	for _, l := range s.lines {
		if lineID(l) != rec.CompetitorID {
			kept = append(kept, l)
			continue
		}
		if replaced {
			s.logger.Warn(ctx, "duplicate result line dropped", logger.String("competitor", rec.CompetitorID))
			continue
		}
		kept = append(kept, line)
		replaced = true
	}
	s.lines = kept
	if !replaced {
		s.lines = append(s.lines, line)
		s.logger.Info(ctx, "competitor appended to results", logger.String("competitor", rec.CompetitorID))
	}
	return nil
}

// ReplaceAll discards the current lines and stores one line per competitor.
// A competitor listed twice keeps its first position and its last record.
func (s *FileStore) ReplaceAll(ctx context.Context, recs []model.PerformanceRecord) error {
	index := make(map[string]int, len(recs))
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		if i, ok := index[r.CompetitorID]; ok {
			s.logger.Warn(ctx, "duplicate record replaced", logger.String("competitor", r.CompetitorID))
			lines[i] = r.Line()
			continue
		}
		index[r.CompetitorID] = len(lines)
		lines = append(lines, r.Line())
	}
	s.mu.Lock()
	s.lines = lines
	s.mu.Unlock()
	return nil
}

// Save writes the lines to a temporary file and renames it over the target.
func (s *FileStore) Save(ctx context.Context) error {
	s.mu.RLock()
	var b strings.Builder
	for _, l := range s.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	s.mu.RUnlock()

	dir := filepath.Dir(s.path)
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStore, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", ErrStore, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %w", ErrStore, tmpName, err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: rename to %s: %w", ErrStore, s.path, err)
	}
	s.logger.Info(ctx, "results saved", logger.String("file", s.path))
	return nil
}

// Standings ranks entries with a result. Time metrics rank the lowest
// value first; percent and distance the highest. Failures (0) rank last.
// A duplicated id is ranked by its last line. n <= 0 returns every ranked
// entry.
func (s *FileStore) Standings(ctx context.Context, metric model.MetricKind, n int) []Entry {
	all := s.All(ctx)
	last := make(map[string]int, len(all))
	for i, e := range all {
		last[lineID(e.Line)] = i
	}
	ranked := all[:0]
	for i, e := range all {
		if e.Record != nil && last[lineID(e.Line)] == i {
			ranked = append(ranked, e)
		}
	}

	better := func(a, b float64) bool { return a > b }
	if metric.IsTime() {
		better = func(a, b float64) bool { return a < b }
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Record.RawValue, ranked[j].Record.RawValue
		if (a == 0) != (b == 0) {
			return b == 0
		}
		if a != b {
			return better(a, b)
		}
		return ranked[i].Record.CompetitorID < ranked[j].Record.CompetitorID
	})

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func lineID(line string) string {
	id, _, _ := strings.Cut(line, ":")
	return strings.TrimSpace(id)
}

func entryFor(line string) Entry {
	e := Entry{Line: line}
	if c, err := model.ParseCompetitor(line); err == nil {
		e.Competitor = c
	}
	if rec, err := model.ParseRecordLine(line); err == nil {
		e.Record = &rec
	}
	return e
}
