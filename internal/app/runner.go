package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/okian/benchrec/internal/adapters/container"
	"github.com/okian/benchrec/internal/adapters/patch"
	"github.com/okian/benchrec/internal/adapters/transcript"
	"github.com/okian/benchrec/internal/config"
	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/internal/domain/monitor"
	"github.com/okian/benchrec/internal/domain/performance"
	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

// Processes is the container lifecycle of one run.
type Processes interface {
	BuildImage(ctx context.Context, spec container.BuildSpec) error
	StartSimulator(ctx context.Context, spec container.SimulatorSpec) (*container.Handle, error)
	StartController(ctx context.Context, image string) (*container.Handle, error)
	TerminateAll(ctx context.Context) error
}

// ProcessFactory creates the lifecycle manager for a run id.
type ProcessFactory func(runID string) Processes

// DockerProcesses returns a factory of container managers sharing engine.
func DockerProcesses(engine container.Engine, cfg *config.Config, buildOut io.Writer) ProcessFactory {
	return func(runID string) Processes {
		return container.New(engine,
			container.WithRunID(runID),
			container.WithSweepImages(cfg.Simulator.Image, cfg.Controller.Image),
			container.WithBuildOutput(buildOut),
		)
	}
}

// RunnerOption applies a configuration option to the Runner.
type RunnerOption func(*Runner)

// WithRunnerFs sets the filesystem patches and transcripts are written to.
func WithRunnerFs(fsys afero.Fs) RunnerOption {
	return func(r *Runner) {
		if fsys != nil {
			r.fs = fsys
		}
	}
}

// WithEcho sets where simulator lines are copied for the operator.
func WithEcho(w io.Writer) RunnerOption {
	return func(r *Runner) {
		if w != nil {
			r.echo = w
		}
	}
}

// WithFormatter sets the performance formatter.
func WithFormatter(f *performance.Formatter) RunnerOption {
	return func(r *Runner) {
		if f != nil {
			r.formatter = f
		}
	}
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(next func() string) RunnerOption {
	return func(r *Runner) {
		if next != nil {
			r.newID = next
		}
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner records a single competitor: patch, build, launch, monitor,
// format and tear down.
type Runner struct {
	cfg       *config.Config
	processes ProcessFactory
	fs        afero.Fs
	echo      io.Writer
	formatter *performance.Formatter
	newID     func() string
	logger    logger.Logger

	patcher     *patch.Patcher
	transcripts *transcript.Store
}

// NewRunner creates a Runner. cfg is read, never modified.
func NewRunner(cfg *config.Config, processes ProcessFactory, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		processes: processes,
		fs:        afero.NewOsFs(),
		echo:      os.Stdout,
		formatter: performance.New(),
		newID:     uuid.NewString,
		logger:    logger.Get().Named("runner"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(r)
	}

	r.patcher = patch.New(patch.WithFs(r.fs), patch.WithStrict(cfg.StrictPatches))
	if cfg.TranscriptDir != "" {
		r.transcripts = transcript.New(cfg.TranscriptDir, transcript.WithFs(r.fs))
	}
	return r
}

// Failure formats an Errored outcome for c without running it.
func (r *Runner) Failure(world model.WorldConfig, c model.Competitor) (model.PerformanceRecord, error) {
	f, err := r.formatter.Format(model.Errored("not run"), world)
	if err != nil {
		return model.PerformanceRecord{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	return model.NewRecord(c, f), nil
}

// Run records one competitor. Failures local to the competitor become a
// failure record and a nil error; a non-nil error wraps ErrBatchAborted.
// Containers are terminated and the configuration restored on every path.
func (r *Runner) Run(ctx context.Context, world model.WorldConfig, c model.Competitor) (rec model.PerformanceRecord, err error) {
	runID := r.newID()
	started := time.Now()
	procs := r.processes(runID)
	teardown := context.WithoutCancel(ctx)

	settings := patch.NewRunSettings(runID, r.cfg.DefaultController, r.cfg.AnimationDir, c)
	patches, err := settings.Plan(patch.Paths{
		WorldFile:      world.File,
		SupervisorFile: r.cfg.SupervisorFile,
		RecorderFile:   r.cfg.RecorderFile,
		SettingsDir:    r.cfg.AnimationDir,
	})
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	snap, err := r.patcher.Apply(ctx, patches)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	r.logger.Debug(ctx, "configuration patched", logger.String("run", runID), logger.Any("files", snap.Files()))

	// Deferred in this order so containers stop before files are restored.
	defer func() {
		if rerr := r.patcher.Restore(teardown, snap); rerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrBatchAborted, rerr))
		}
	}()
	defer func() {
		if terr := procs.TerminateAll(teardown); terr != nil {
			r.logger.Warn(teardown, "teardown incomplete", logger.String("run", runID), logger.Error(terr))
		}
	}()

	r.logger.Info(ctx, "recording competitor",
		logger.String("competitor", c.ID),
		logger.String("repository", c.RepositoryRef()),
		logger.String("run", runID),
	)

	outcome, err := r.execute(ctx, c, runID, procs)
	if err != nil {
		return rec, err
	}

	f, err := r.formatter.Format(outcome, world)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	rec = model.NewRecord(c, f)

	metrics.RecordRun(outcome.Label(), time.Since(started).Seconds())
	metrics.UpdateCompetitorPerformance(c.ID, f.RawValue)
	r.logger.Info(ctx, "competitor recorded",
		logger.String("competitor", c.ID),
		logger.String("outcome", outcome.String()),
		logger.String("result", f.String()),
		logger.Duration("elapsed", time.Since(started)),
	)
	return rec, nil
}

func (r *Runner) execute(ctx context.Context, c model.Competitor, runID string, procs Processes) (model.RunOutcome, error) {
	sim := r.cfg.Simulator
	if err := procs.BuildImage(ctx, container.BuildSpec{
		Image:      sim.Image,
		ContextDir: sim.Context,
		Dockerfile: sim.Dockerfile,
	}); err != nil {
		return model.RunOutcome{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}

	if err := procs.BuildImage(ctx, container.BuildSpec{
		Image:      r.cfg.Controller.Image,
		ContextDir: c.ControllerPath,
		Dockerfile: r.cfg.Controller.Dockerfile,
	}); err != nil {
		r.logger.Error(ctx, "controller build failed", logger.String("competitor", c.ID), logger.Error(err))
		return model.Errored("controller build failed"), nil
	}

	mountSource, err := filepath.Abs(r.cfg.AnimationDir)
	if err != nil {
		return model.RunOutcome{}, fmt.Errorf("%w: animation dir: %w", ErrBatchAborted, err)
	}
	handle, err := procs.StartSimulator(ctx, container.SimulatorSpec{
		Image:         sim.Image,
		MountSource:   mountSource,
		MountTarget:   sim.MountTarget,
		HostPort:      sim.HostPort,
		ContainerPort: sim.ContainerPort,
	})
	if err != nil {
		r.logger.Error(ctx, "simulator launch failed", logger.String("competitor", c.ID), logger.Error(err))
		return model.Errored("simulator launch failed"), nil
	}
	defer handle.Close()

	echo, closeEcho := r.echoFor(ctx, c.ID, runID)
	defer closeEcho()

	mon := monitor.New(
		monitor.WithEcho(echo),
		monitor.WithDrainTimeout(r.cfg.DrainTimeout),
		monitor.WithWatchdog(r.cfg.WatchdogTimeout),
	)
	outcome, err := mon.Run(ctx, handle.Output(), monitor.Effects{
		LaunchController: func(ctx context.Context) error {
			_, err := procs.StartController(ctx, r.cfg.Controller.Image)
			return err
		},
		Terminate: procs.TerminateAll,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, fmt.Errorf("%w: %w", ErrBatchAborted, ctxErr)
		}
		r.logger.Warn(ctx, "run errored", logger.String("competitor", c.ID), logger.Error(err))
	}
	return outcome, nil
}

// echoFor tees simulator output to the operator and, when enabled, a transcript.
func (r *Runner) echoFor(ctx context.Context, competitorID, runID string) (io.Writer, func()) {
	if r.transcripts == nil {
		return r.echo, func() {}
	}
	w, err := r.transcripts.Create(competitorID, runID)
	if err != nil {
		r.logger.Warn(ctx, "transcript disabled for run", logger.String("run", runID), logger.Error(err))
		return r.echo, func() {}
	}
	return io.MultiWriter(r.echo, w), func() {
		if err := w.Close(); err != nil {
			r.logger.Warn(ctx, "transcript not saved", logger.String("path", w.Path()), logger.Error(err))
			return
		}
		metrics.RecordArtifact("transcript")
		r.logger.Debug(ctx, "transcript saved", logger.String("path", w.Path()))
	}
}
