package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

const killSignal = "KILL"

// SimulatorSpec describes the simulator container.
type SimulatorSpec struct {
	Image         string
	MountSource   string // absolute host path
	MountTarget   string
	HostPort      string
	ContainerPort string
	Env           []string
}

// Handle is a started container. For the simulator, Output streams its
// combined stdout and stderr.
type Handle struct {
	ID   string
	Name string

	output io.ReadCloser
	closer func()
	wg     conc.WaitGroup
	once   sync.Once
}

// NewHandle wraps a container that streams output from an existing reader.
func NewHandle(id, name string, output io.ReadCloser) *Handle {
	return &Handle{ID: id, Name: name, output: output}
}

// Output returns the container's output stream. Controllers have none.
func (h *Handle) Output() io.ReadCloser {
	if h.output == nil {
		return io.NopCloser(strings.NewReader(""))
	}
	return h.output
}

// Close detaches from the container without stopping it.
func (h *Handle) Close() {
	h.once.Do(func() {
		if h.output != nil {
			_ = h.output.Close()
		}
		if h.closer != nil {
			h.closer()
		}
		h.wg.Wait()
	})
}

// Manager starts and stops the containers of one run. It never interprets
// their output.
type Manager struct {
	engine   Engine
	runID    string
	buildOut io.Writer
	logger   logger.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
	sweep   map[string]struct{}
}

// New creates a Manager for one run.
func New(engine Engine, opts ...Option) *Manager {
	m := &Manager{
		engine:   engine,
		runID:    uuid.NewString(),
		buildOut: io.Discard,
		logger:   logger.Get().Named("container"),
		tracked:  make(map[string]struct{}),
		sweep:    make(map[string]struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RunID returns the identifier used in container names.
func (m *Manager) RunID() string { return m.runID }

// StartSimulator creates, attaches to and starts the simulator container.
func (m *Manager) StartSimulator(ctx context.Context, spec SimulatorSpec) (*Handle, error) {
	h, err := m.startSimulator(ctx, spec)
	if err != nil {
		metrics.RecordContainerOperation("start_simulator", "error")
		metrics.RecordErrorByComponent("container", "launch")
		return nil, fmt.Errorf("%w: simulator: %w", ErrLaunch, err)
	}
	metrics.RecordContainerOperation("start_simulator", "ok")
	return h, nil
}

func (m *Manager) startSimulator(ctx context.Context, spec SimulatorSpec) (*Handle, error) {
	port, err := nat.NewPort("tcp", spec.ContainerPort)
	if err != nil {
		return nil, fmt.Errorf("container port %q: %w", spec.ContainerPort, err)
	}
	m.addSweep(spec.Image)

	name := "benchrec-sim-" + m.runID
	created, err := m.engine.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          spec.Env,
			AttachStdout: true,
			AttachStderr: true,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			AutoRemove: true,
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: spec.MountSource,
				Target: spec.MountTarget,
			}},
			PortBindings: nat.PortMap{port: []nat.PortBinding{{HostPort: spec.HostPort}}},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	m.track(created.ID)

	// Attach before start so no early output is lost.
	attach, err := m.engine.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}

	if err := m.engine.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("start: %w", err)
	}

	pr, pw := io.Pipe()
	h := &Handle{ID: created.ID, Name: name, output: pr, closer: attach.Close}
	h.wg.Go(func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, attach.Reader)
		_ = pw.CloseWithError(copyErr)
	})

	m.logger.Info(ctx, "simulator started",
		logger.String("container", name),
		logger.String("image", spec.Image),
		logger.String("port", spec.HostPort+":"+spec.ContainerPort),
	)
	return h, nil
}

// StartController starts the controller container detached; its output is discarded.
func (m *Manager) StartController(ctx context.Context, image string) (*Handle, error) {
	m.addSweep(image)

	name := "benchrec-ctl-" + m.runID
	created, err := m.engine.ContainerCreate(ctx,
		&container.Config{Image: image},
		&container.HostConfig{AutoRemove: true},
		nil, nil, name)
	if err == nil {
		m.track(created.ID)
		err = m.engine.ContainerStart(ctx, created.ID, container.StartOptions{})
	}
	if err != nil {
		metrics.RecordContainerOperation("start_controller", "error")
		metrics.RecordErrorByComponent("container", "launch")
		return nil, fmt.Errorf("%w: controller: %w", ErrLaunch, err)
	}
	metrics.RecordContainerOperation("start_controller", "ok")
	m.logger.Info(ctx, "controller started", logger.String("container", name), logger.String("image", image))
	return &Handle{ID: created.ID, Name: name}, nil
}

// TerminateAll kills every container of this run and every running
// container of the swept images. Containers that already exited are not
// errors, so it is safe to call any number of times.
func (m *Manager) TerminateAll(ctx context.Context) error {
	m.mu.Lock()
	tracked := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		tracked = append(tracked, id)
	}
	images := make([]string, 0, len(m.sweep))
	for img := range m.sweep {
		images = append(images, img)
	}
	m.mu.Unlock()
	sort.Strings(tracked)
	sort.Strings(images)

	var errs []error
	targets := make(map[string]struct{}, len(tracked))
	for _, id := range tracked {
		targets[id] = struct{}{}
	}
	for _, img := range images {
		running, err := m.engine.ContainerList(ctx, container.ListOptions{
			Filters: filters.NewArgs(filters.Arg("ancestor", img)),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", img, err))
			continue
		}
		for _, c := range running {
			targets[c.ID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		err := m.engine.ContainerKill(ctx, id, killSignal)
		switch {
		case err == nil:
			metrics.RecordContainerKill()
			m.logger.Info(ctx, "container killed", logger.String("container", shortID(id)))
		case gone(err):
		default:
			errs = append(errs, fmt.Errorf("kill %s: %w", shortID(id), err))
		}
	}

	// Created-but-never-started containers are not auto-removed.
	for _, id := range tracked {
		err := m.engine.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		if err != nil && !gone(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", shortID(id), err))
		}
	}

	m.mu.Lock()
	m.tracked = make(map[string]struct{})
	m.mu.Unlock()

	if len(errs) > 0 {
		metrics.RecordContainerOperation("terminate", "error")
		return fmt.Errorf("%w: %w", ErrTerminate, errors.Join(errs...))
	}
	metrics.RecordContainerOperation("terminate", "ok")
	return nil
}

func (m *Manager) track(id string) {
	m.mu.Lock()
	m.tracked[id] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) addSweep(image string) {
	if image == "" {
		return
	}
	m.mu.Lock()
	m.sweep[image] = struct{}{}
	m.mu.Unlock()
}

// gone reports errors meaning the container already stopped or was removed.
func gone(err error) bool {
	return errdefs.IsNotFound(err) || errdefs.IsConflict(err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
