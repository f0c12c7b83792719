// Package service records a benchmark's competitors one after another and
// persists their results and animations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/benchrec/internal/adapters/artifacts"
	"github.com/okian/benchrec/internal/adapters/fetch"
	"github.com/okian/benchrec/internal/adapters/repository"
	"github.com/okian/benchrec/internal/config"
	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/internal/domain/types"
	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

// Recorder records one competitor.
type Recorder interface {
	Run(ctx context.Context, world model.WorldConfig, c model.Competitor) (model.PerformanceRecord, error)
	Failure(world model.WorldConfig, c model.Competitor) (model.PerformanceRecord, error)
}

var _ Recorder = (*Runner)(nil)

// Service orchestrates a batch: fetch, record, persist, clean up.
type Service struct {
	mu sync.RWMutex

	// Core components
	cfg       *config.Config
	recorder  Recorder
	fetcher   fetch.Fetcher
	results   repository.Store
	artifacts *artifacts.Store

	// Progress
	running     bool
	individual  bool
	total       int
	completed   int
	current     string
	lastOutcome string
	startedAt   time.Time
	finishedAt  time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithFetcher sets the controller fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithResults sets the result store.
func WithResults(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.results = store
		}
	}
}

// WithArtifacts sets the animation store.
func WithArtifacts(a *artifacts.Store) Option {
	return func(s *Service) {
		if a != nil {
			s.artifacts = a
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Stores and fetcher default to the OS-backed
// implementations at the configured paths.
func New(cfg *config.Config, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.Get().Named("service"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		s.fetcher = fetch.NewSVNFetcher(cfg.ControllersDir, cfg.DefaultController, cfg.FetchToken,
			fetch.WithURLTemplate(cfg.FetchURLTemplate))
	}
	if s.results == nil {
		s.results = repository.NewFileStore(cfg.CompetitorsFile)
	}
	if s.artifacts == nil {
		s.artifacts = artifacts.New(cfg.StorageDir, cfg.AnimationDir)
	}
	return s
}

// Results returns the result store.
func (s *Service) Results() repository.Store {
	return s.results
}

// Competitors loads the result set and returns who to record: the
// configured individual competitor, or every valid line. A competitor id
// listed twice keeps its first position and its last line.
func (s *Service) Competitors(ctx context.Context) ([]model.Competitor, error) {
	if err := s.results.Load(ctx); err != nil {
		return nil, err
	}

	if s.cfg.Individual() {
		c, err := model.ParseCompetitor(s.cfg.IndividualEvaluation)
		if err != nil {
			return nil, err
		}
		return []model.Competitor{c.InDir(s.cfg.ControllersDir)}, nil
	}

	var out []model.Competitor
	index := make(map[string]int)
	for _, e := range s.results.All(ctx) {
		if e.Competitor.ID == "" {
			s.logger.Warn(ctx, "skipping malformed competitor line", logger.String("line", e.Line))
			continue
		}
		c := e.Competitor.InDir(s.cfg.ControllersDir)
		if i, ok := index[c.ID]; ok {
			s.logger.Warn(ctx, "duplicate competitor id, keeping the last line",
				logger.String("competitor", c.ID),
				logger.String("dropped", out[i].RepositoryRef()),
			)
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoCompetitors
	}

	owners := make(map[string]string, len(out))
	for _, c := range out {
		if other, ok := owners[c.ControllerName]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", ErrControllerCollision, other, c.ID, c.ControllerName)
		}
		owners[c.ControllerName] = c.ID
	}
	return out, nil
}

// Record runs the configured batch end to end.
func (s *Service) Record(ctx context.Context) ([]model.PerformanceRecord, error) {
	world, err := s.cfg.WorldConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	competitors, err := s.Competitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	return s.RunBatch(ctx, world, competitors, s.cfg.Individual())
}

// RunBatch records competitors sequentially and persists the results.
//
// In full mode storage is cleared and the result set rewritten from the
// records. In individual mode only the recorded competitors' lines and
// animation directories change. Fetched controllers and the work directory
// are removed on every path.
func (s *Service) RunBatch(ctx context.Context, world model.WorldConfig, competitors []model.Competitor, individual bool) ([]model.PerformanceRecord, error) {
	if len(competitors) == 0 {
		return nil, ErrNoCompetitors
	}
	s.begin(len(competitors), individual)
	defer s.finish(ctx)

	s.logger.Info(ctx, "starting batch",
		logger.Int("competitors", len(competitors)),
		logger.Bool("individual", individual),
		logger.String("metric", string(world.Metric)),
	)

	records := make([]model.PerformanceRecord, 0, len(competitors))
	for _, c := range competitors {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("%w: %w", ErrBatchAborted, err)
		}
		s.setCurrent(c.ID)

		rec, err := s.recordOne(ctx, world, c)
		if err != nil {
			s.logger.Error(ctx, "batch aborted", logger.String("competitor", c.ID), logger.Error(err))
			return records, err
		}
		records = append(records, rec)
		s.advance(rec.Formatted)
	}

	if err := s.persist(ctx, competitors, records, individual); err != nil {
		return records, err
	}

	s.logger.Info(ctx, "batch recorded", logger.Int("competitors", len(records)))
	return records, nil
}

func (s *Service) recordOne(ctx context.Context, world model.WorldConfig, c model.Competitor) (model.PerformanceRecord, error) {
	if err := s.fetcher.Fetch(ctx, c); err != nil {
		s.logger.Error(ctx, "controller unavailable", logger.String("competitor", c.ID), logger.Error(err))
		if ctx.Err() != nil {
			return model.PerformanceRecord{}, fmt.Errorf("%w: %w", ErrBatchAborted, ctx.Err())
		}
		metrics.RecordRun(model.Errored("fetch").Label(), 0)
		return s.recorder.Failure(world, c)
	}
	return s.recorder.Run(ctx, world, c)
}

func (s *Service) persist(ctx context.Context, competitors []model.Competitor, records []model.PerformanceRecord, individual bool) error {
	if individual {
		for _, rec := range records {
			if err := s.results.Upsert(ctx, rec); err != nil {
				return err
			}
		}
	} else {
		if err := s.artifacts.Clear(ctx); err != nil {
			return err
		}
		if err := s.results.ReplaceAll(ctx, records); err != nil {
			return err
		}
	}

	var errs []error
	for _, c := range competitors {
		if _, err := s.artifacts.Replace(ctx, c.ID, c.ControllerName); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.results.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) begin(total int, individual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.individual = individual
	s.total = total
	s.completed = 0
	s.current = ""
	s.lastOutcome = ""
	s.startedAt = time.Now()
	s.finishedAt = time.Time{}
	metrics.UpdateBatchProgress(total, 0)
}

func (s *Service) setCurrent(id string) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
}

func (s *Service) advance(outcome string) {
	s.mu.Lock()
	s.completed++
	s.lastOutcome = outcome
	total, completed := s.total, s.completed
	s.mu.Unlock()
	metrics.UpdateBatchProgress(total, completed)
}

// finish removes fetched controllers and the work directory.
func (s *Service) finish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := s.fetcher.Cleanup(ctx); err != nil {
		s.logger.Warn(ctx, "controller cleanup failed", logger.Error(err))
	}
	if dir := strings.TrimSpace(s.cfg.WorkDir); dir != "" {
		if err := s.artifacts.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "work dir cleanup failed", logger.String("dir", dir), logger.Error(err))
		}
	}

	s.mu.Lock()
	s.running = false
	s.current = ""
	s.finishedAt = time.Now()
	s.mu.Unlock()
}

// Standings returns the top n recorded results, best first. n <= 0 returns all.
func (s *Service) Standings(ctx context.Context, n int) ([]types.Standing, error) {
	world, err := s.cfg.WorldConfig()
	if err != nil {
		return nil, err
	}
	entries := s.results.Standings(ctx, world.Metric, n)
	out := make([]types.Standing, len(entries))
	for i, e := range entries {
		out[i] = standingFor(e)
	}
	return out, nil
}

// Result returns the ranked result of one competitor. Unknown competitors
// and competitors without a result are both ErrNotFound.
func (s *Service) Result(ctx context.Context, competitorID string) (types.Standing, error) {
	e, err := s.results.Get(ctx, competitorID)
	if err != nil {
		return types.Standing{}, err
	}
	if e.Record == nil {
		return types.Standing{}, fmt.Errorf("%w: %s has no result yet", repository.ErrNotFound, competitorID)
	}
	all, err := s.Standings(ctx, 0)
	if err != nil {
		return types.Standing{}, err
	}
	for _, st := range all {
		if st.CompetitorID == competitorID {
			return st, nil
		}
	}
	return types.Standing{}, fmt.Errorf("%w: %s", repository.ErrNotFound, competitorID)
}

func standingFor(e repository.Entry) types.Standing {
	return types.Standing{
		Rank:         e.Rank,
		CompetitorID: e.Record.CompetitorID,
		Repository:   e.Record.Repository,
		RawValue:     e.Record.RawValue,
		Performance:  e.Record.Formatted,
		Date:         e.Record.Date,
	}
}

// GetStats returns batch progress for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"running":    s.running,
		"individual": s.individual,
		"total":      s.total,
		"completed":  s.completed,
	}
	if s.current != "" {
		stats["current"] = s.current
	}
	if s.lastOutcome != "" {
		stats["lastOutcome"] = s.lastOutcome
	}
	if !s.startedAt.IsZero() {
		stats["startedAt"] = s.startedAt.UTC().Format(time.RFC3339)
	}
	if !s.finishedAt.IsZero() {
		stats["finishedAt"] = s.finishedAt.UTC().Format(time.RFC3339)
	}
	return stats
}
