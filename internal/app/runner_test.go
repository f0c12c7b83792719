package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/benchrec/internal/adapters/container"
	service "github.com/okian/benchrec/internal/app"
	"github.com/okian/benchrec/internal/config"
	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/internal/domain/performance"
	"github.com/okian/benchrec/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	worldFile      = "worlds/benchmark.wbt"
	supervisorFile = "controllers/supervisor/supervisor.py"
	recorderFile   = "controllers/supervisor/recorder/recorder.py"

	worldBody      = "Robot {\n  controller \"edit_me\"\n}\n"
	supervisorBody = "RECORD_ANIMATION = False\nrun()\n"
	recorderBody   = "OUTPUT_FOLDER = \"tmp/animation\"\nCONTROLLER_NAME = \"animation\"\nCOMPETITOR_ID = 0\n"
)

var fixedDay = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// fakeProcesses stands in for the container manager of one run.
type fakeProcesses struct {
	mu sync.Mutex
	fs afero.Fs

	output        string
	simBuildErr   error
	ctlBuildErr   error
	simStartErr   error
	builds        []container.BuildSpec
	simSpecs      []container.SimulatorSpec
	controllers   int
	terminations  int
	patchedWorld  string
	patchedRecord string
}

func (f *fakeProcesses) BuildImage(_ context.Context, spec container.BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, spec)
	if len(f.builds) == 1 {
		return f.simBuildErr
	}
	return f.ctlBuildErr
}

func (f *fakeProcesses) StartSimulator(_ context.Context, spec container.SimulatorSpec) (*container.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simSpecs = append(f.simSpecs, spec)
	if f.simStartErr != nil {
		return nil, f.simStartErr
	}
	w, _ := afero.ReadFile(f.fs, worldFile)
	r, _ := afero.ReadFile(f.fs, recorderFile)
	f.patchedWorld, f.patchedRecord = string(w), string(r)
	return container.NewHandle("sim", "benchrec-sim-test", io.NopCloser(strings.NewReader(f.output))), nil
}

func (f *fakeProcesses) StartController(context.Context, string) (*container.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controllers++
	return container.NewHandle("ctl", "benchrec-ctl-test", nil), nil
}

func (f *fakeProcesses) TerminateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminations++
	return nil
}

func seedBenchmark(fsys afero.Fs) {
	So(afero.WriteFile(fsys, worldFile, []byte(worldBody), 0o644), ShouldBeNil)
	So(afero.WriteFile(fsys, supervisorFile, []byte(supervisorBody), 0o644), ShouldBeNil)
	So(afero.WriteFile(fsys, recorderFile, []byte(recorderBody), 0o644), ShouldBeNil)
}

func assertRestored(fsys afero.Fs) {
	for file, body := range map[string]string{
		worldFile:      worldBody,
		supervisorFile: supervisorBody,
		recorderFile:   recorderBody,
	} {
		got, err := afero.ReadFile(fsys, file)
		So(err, ShouldBeNil)
		So(string(got), ShouldEqual, body)
	}
	ok, _ := afero.Exists(fsys, "tmp/animation/run_settings.yaml")
	So(ok, ShouldBeFalse)
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.World.File = worldFile
	cfg.World.MaxDuration = 300
	cfg.DrainTimeout = time.Second
	cfg.SupervisorFile = supervisorFile
	cfg.RecorderFile = recorderFile
	return cfg
}

func TestRunner_Run(t *testing.T) {
	Convey("Given a runner over an in-memory benchmark", t, func() {
		ctx := context.Background()
		fsys := afero.NewMemMapFs()
		seedBenchmark(fsys)
		cfg := testConfig()
		world, err := cfg.WorldConfig()
		So(err, ShouldBeNil)
		competitor, err := model.ParseCompetitor("1:alice/walker")
		So(err, ShouldBeNil)

		procs := &fakeProcesses{fs: fsys}
		var echo bytes.Buffer
		newRunner := func(c *config.Config) *service.Runner {
			return service.NewRunner(c, func(string) service.Processes { return procs },
				service.WithRunnerFs(fsys),
				service.WithEcho(&echo),
				service.WithRunIDs(func() string { return "run-1" }),
				service.WithFormatter(performance.New(performance.WithClock(func() time.Time { return fixedDay }))),
			)
		}

		Convey("When the simulator reports a performance", func() {
			procs.output = "INFO: 'supervisor' waiting for connection\nperformance_line:125.5\nINFO: saving animation\n"
			rec, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the record carries the rendered value", func() {
				So(err, ShouldBeNil)
				So(rec.Line(), ShouldEqual, "1:alice/walker:125.5:02.05.50:2026-03-14")
			})

			Convey("Then the run was configured for the competitor", func() {
				So(procs.patchedWorld, ShouldContainSubstring, `controller "<extern>"`)
				So(procs.patchedRecord, ShouldContainSubstring, `CONTROLLER_NAME = "competitor_1_alice"`)
				So(procs.patchedRecord, ShouldContainSubstring, "COMPETITOR_ID = 1")
			})

			Convey("Then both images were built and the controller launched once", func() {
				So(procs.builds, ShouldHaveLength, 2)
				So(procs.builds[0].Image, ShouldEqual, cfg.Simulator.Image)
				So(procs.builds[1].ContextDir, ShouldEqual, "controllers/competitor_1_alice")
				So(procs.builds[1].Dockerfile, ShouldEqual, "controller_Dockerfile")
				So(procs.controllers, ShouldEqual, 1)
				So(procs.terminations, ShouldBeGreaterThanOrEqualTo, 1)
			})

			Convey("Then every line was echoed, including the drained ones", func() {
				So(echo.String(), ShouldEqual, procs.output)
			})

			Convey("Then the configuration is restored", func() {
				assertRestored(fsys)
			})
		})

		Convey("When the controller times out", func() {
			procs.output = "waiting for connection\nController timeout\n"
			rec, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the maximum duration is recorded", func() {
				So(err, ShouldBeNil)
				So(rec.RawValue, ShouldEqual, 300)
				So(rec.Formatted, ShouldEqual, "05.00.00")
				assertRestored(fsys)
			})
		})

		Convey("When the stream ends before the simulator is ready", func() {
			procs.output = "INFO: starting\n"
			rec, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the competitor fails without aborting the batch", func() {
				So(err, ShouldBeNil)
				So(rec.Formatted, ShouldEqual, performance.FailureText)
				So(procs.controllers, ShouldEqual, 0)
				assertRestored(fsys)
			})
		})

		Convey("When the controller image does not build", func() {
			procs.ctlBuildErr = errors.New("no Dockerfile")
			rec, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the competitor fails and no simulator starts", func() {
				So(err, ShouldBeNil)
				So(rec.Formatted, ShouldEqual, performance.FailureText)
				So(procs.simSpecs, ShouldBeEmpty)
				assertRestored(fsys)
			})
		})

		Convey("When the simulator image does not build", func() {
			procs.simBuildErr = errors.New("base image missing")
			_, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the batch is aborted after teardown", func() {
				So(errors.Is(err, service.ErrBatchAborted), ShouldBeTrue)
				So(procs.terminations, ShouldEqual, 1)
				assertRestored(fsys)
			})
		})

		Convey("When a configuration file is missing", func() {
			So(fsys.Remove(recorderFile), ShouldBeNil)
			_, err := newRunner(cfg).Run(ctx, world, competitor)

			Convey("Then the batch is aborted and nothing is left patched", func() {
				So(errors.Is(err, service.ErrBatchAborted), ShouldBeTrue)
				So(procs.builds, ShouldBeEmpty)
				got, _ := afero.ReadFile(fsys, worldFile)
				So(string(got), ShouldEqual, worldBody)
			})
		})

		Convey("When transcripts are enabled", func() {
			withLogs := *cfg
			withLogs.TranscriptDir = "logs"
			procs.output = "waiting for connection\nperformance_line:3\n"
			_, err := newRunner(&withLogs).Run(ctx, world, competitor)

			Convey("Then the run's output is kept", func() {
				So(err, ShouldBeNil)
				ok, _ := afero.Exists(fsys, "logs/competitor_1-run-1.log.zst")
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestRunner_Failure(t *testing.T) {
	Convey("Given a competitor that could not be run", t, func() {
		cfg := testConfig()
		world, _ := cfg.WorldConfig()
		c, _ := model.ParseCompetitor("9:zoe/bot")
		r := service.NewRunner(cfg, nil,
			service.WithRunnerFs(afero.NewMemMapFs()),
			service.WithFormatter(performance.New(performance.WithClock(func() time.Time { return fixedDay }))),
		)

		Convey("Then a failure record is produced", func() {
			rec, err := r.Failure(world, c)
			So(err, ShouldBeNil)
			So(rec.Line(), ShouldEqual, "9:zoe/bot:0:failure:2026-03-14")
		})
	})
}
