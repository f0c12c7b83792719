package container

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/benchrec/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type createCall struct {
	name   string
	config *container.Config
	host   *container.HostConfig
}

type fakeEngine struct {
	mu sync.Mutex

	buildBody  string
	buildErr   error
	buildOpts  types.ImageBuildOptions
	buildBytes int

	creates  []createCall
	starts   []string
	kills    []string
	removes  []string
	listed   []string
	startErr error
	killErr  map[string]error
	running  map[string][]string // image -> container ids
	output   []byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{killErr: map[string]error{}, running: map[string][]string{}}
}

func (f *fakeEngine) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	b, _ := io.ReadAll(buildContext)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildOpts = options
	f.buildBytes = len(b)
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildBody))}, nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, containerName string,
) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{name: containerName, config: config, host: hostConfig})
	return container.CreateResponse{ID: "id-" + containerName}, nil
}

func (f *fakeEngine) ContainerAttach(context.Context, string, container.AttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	_ = server.Close()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(bytes.NewReader(f.output))}, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, id)
	return f.startErr
}

func (f *fakeEngine) ContainerList(_ context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Container
	for _, img := range options.Filters.Get("ancestor") {
		f.listed = append(f.listed, img)
		for _, id := range f.running[img] {
			out = append(out, types.Container{ID: id, Image: img})
		}
	}
	return out, nil
}

func (f *fakeEngine) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, id)
	return f.killErr[id]
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, id)
	return errdefs.NotFound(errors.New("removed by auto-remove"))
}

func (f *fakeEngine) Close() error { return nil }

func multiplexed(lines ...string) []byte {
	var buf bytes.Buffer
	stdout := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for i, l := range lines {
		w := stdout
		if i%2 == 1 {
			w = stderr
		}
		_, _ = w.Write([]byte(l + "\n"))
	}
	return buf.Bytes()
}

func simulatorSpec() SimulatorSpec {
	return SimulatorSpec{
		Image:         "animator-webots",
		MountSource:   "/work/tmp/animation",
		MountTarget:   "/usr/local/tmp/animation",
		HostPort:      "3005",
		ContainerPort: "1234",
	}
}

func TestBuildImage(t *testing.T) {
	Convey("Given a build context directory", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "animator_Dockerfile"), []byte("FROM scratch\n"), 0o600), ShouldBeNil)
		engine := newFakeEngine()
		var progress bytes.Buffer
		m := New(engine, WithBuildOutput(&progress))

		Convey("When the build stream succeeds", func() {
			engine.buildBody = `{"stream":"Step 1/1 : FROM scratch\n"}` + "\n"
			err := m.BuildImage(ctx, BuildSpec{Image: "animator-webots", ContextDir: dir, Dockerfile: "animator_Dockerfile"})

			Convey("Then the image is tagged and progress is forwarded", func() {
				So(err, ShouldBeNil)
				So(engine.buildOpts.Tags, ShouldResemble, []string{"animator-webots"})
				So(engine.buildOpts.Dockerfile, ShouldEqual, "animator_Dockerfile")
				So(engine.buildBytes, ShouldBeGreaterThan, 0)
				So(progress.String(), ShouldContainSubstring, "FROM scratch")
			})
		})

		Convey("When the build stream reports an error", func() {
			engine.buildBody = `{"errorDetail":{"message":"no such file"},"error":"no such file"}` + "\n"
			err := m.BuildImage(ctx, BuildSpec{Image: "controller-docker", ContextDir: dir, Dockerfile: "missing"})

			Convey("Then a build error is returned", func() {
				So(errors.Is(err, ErrBuild), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "no such file")
			})
		})

		Convey("When the engine rejects the request", func() {
			engine.buildErr = errors.New("daemon unavailable")
			err := m.BuildImage(ctx, BuildSpec{Image: "x", ContextDir: dir, Dockerfile: "animator_Dockerfile"})

			So(errors.Is(err, ErrBuild), ShouldBeTrue)
		})
	})
}

func TestStartSimulator(t *testing.T) {
	Convey("Given a fake engine with simulator output", t, func() {
		ctx := context.Background()
		engine := newFakeEngine()
		engine.output = multiplexed("booting", "waiting for connection", "performance_line:2")
		m := New(engine, WithRunID("run-1"))

		Convey("When the simulator starts", func() {
			h, err := m.StartSimulator(ctx, simulatorSpec())
			So(err, ShouldBeNil)
			defer h.Close()

			Convey("Then stdout and stderr are merged into one stream", func() {
				out, readErr := io.ReadAll(h.Output())
				So(readErr, ShouldBeNil)
				So(string(out), ShouldEqual, "booting\nwaiting for connection\nperformance_line:2\n")
			})

			Convey("Then the container is configured like the benchmark expects", func() {
				So(engine.creates, ShouldHaveLength, 1)
				call := engine.creates[0]
				So(call.name, ShouldEqual, "benchrec-sim-run-1")
				So(call.host.AutoRemove, ShouldBeTrue)
				So(call.host.Mounts[0].Source, ShouldEqual, "/work/tmp/animation")
				So(call.host.Mounts[0].Target, ShouldEqual, "/usr/local/tmp/animation")
				So(call.host.PortBindings["1234/tcp"][0].HostPort, ShouldEqual, "3005")
				So(engine.starts, ShouldResemble, []string{"id-benchrec-sim-run-1"})
			})
		})

		Convey("When the container cannot start", func() {
			engine.startErr = errors.New("port is already allocated")
			h, err := m.StartSimulator(ctx, simulatorSpec())

			Convey("Then a launch error is returned and teardown removes the container", func() {
				So(h, ShouldBeNil)
				So(errors.Is(err, ErrLaunch), ShouldBeTrue)
				So(m.TerminateAll(ctx), ShouldBeNil)
				So(engine.removes, ShouldResemble, []string{"id-benchrec-sim-run-1"})
			})
		})

		Convey("When the container port is invalid", func() {
			spec := simulatorSpec()
			spec.ContainerPort = "not-a-port"
			_, err := m.StartSimulator(ctx, spec)

			So(errors.Is(err, ErrLaunch), ShouldBeTrue)
			So(engine.creates, ShouldBeEmpty)
		})
	})
}

func TestTerminateAll(t *testing.T) {
	Convey("Given a run with a simulator and a controller", t, func() {
		ctx := context.Background()
		engine := newFakeEngine()
		m := New(engine, WithRunID("r"), WithSweepImages("animator-webots", "controller-docker", ""))

		sim, err := m.StartSimulator(ctx, simulatorSpec())
		So(err, ShouldBeNil)
		defer sim.Close()
		ctl, err := m.StartController(ctx, "controller-docker")
		So(err, ShouldBeNil)
		So(ctl.Output(), ShouldNotBeNil)
		engine.running["animator-webots"] = []string{"id-benchrec-sim-r", "stray"}

		Convey("When terminating", func() {
			err := m.TerminateAll(ctx)

			Convey("Then tracked and swept containers are killed once each", func() {
				So(err, ShouldBeNil)
				So(engine.kills, ShouldResemble, []string{"id-benchrec-ctl-r", "id-benchrec-sim-r", "stray"})
				So(engine.listed, ShouldResemble, []string{"animator-webots", "controller-docker"})
			})

			Convey("Then a second call only sweeps images", func() {
				engine.running = map[string][]string{}
				engine.kills = nil
				So(m.TerminateAll(ctx), ShouldBeNil)
				So(engine.kills, ShouldBeEmpty)
			})
		})

		Convey("When containers already exited", func() {
			engine.killErr["id-benchrec-sim-r"] = errdefs.Conflict(errors.New("is not running"))
			engine.killErr["stray"] = errdefs.NotFound(errors.New("no such container"))

			So(m.TerminateAll(ctx), ShouldBeNil)
		})

		Convey("When the engine fails to kill", func() {
			engine.killErr["stray"] = errors.New("permission denied")
			err := m.TerminateAll(ctx)

			Convey("Then the error is reported after every container was attempted", func() {
				So(errors.Is(err, ErrTerminate), ShouldBeTrue)
				So(engine.kills, ShouldHaveLength, 3)
			})
		})
	})
}
