package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

const (
	defaultDrainTimeout = 60 * time.Second
	defaultMaxLine      = 4 << 20
	initialLineBuffer   = 64 << 10
)

// Effects executes the machine's side effects. Both are required.
type Effects struct {
	// LaunchController starts the competitor controller. It must not wait for it to finish.
	LaunchController func(ctx context.Context) error
	// Terminate stops the simulator and controller. It must be idempotent.
	Terminate func(ctx context.Context) error
}

// Monitor consumes one run's output stream.
type Monitor struct {
	echo         io.Writer
	drainTimeout time.Duration
	watchdog     time.Duration
	maxLine      int
	logger       logger.Logger
}

// New creates a Monitor. Lines are discarded unless WithEcho is given.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		echo:         io.Discard,
		drainTimeout: defaultDrainTimeout,
		maxLine:      defaultMaxLine,
		logger:       logger.Get().Named("monitor"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	return m
}

type lineOrErr struct {
	line string
	err  error
}

// Run reads r line by line until the run resolves and returns its outcome.
//
// The outcome is always set. A non-nil error explains an Errored outcome
// (ErrStreamClosed, ErrWatchdog, ErrControllerLaunch) or reports that ctx
// was cancelled. If r is an io.Closer it is closed before Run returns.
func (m *Monitor) Run(ctx context.Context, r io.Reader, fx Effects) (model.RunOutcome, error) {
	done := make(chan struct{})
	lines := make(chan lineOrErr)

	var wg conc.WaitGroup
	wg.Go(func() { m.read(r, lines, done) })
	defer func() {
		close(done)
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
		wg.Wait()
	}()

	var watchdog <-chan time.Time
	if m.watchdog > 0 {
		t := time.NewTimer(m.watchdog)
		defer t.Stop()
		watchdog = t.C
	}

	machine := NewMachine()
	var runErr error

	for !machine.State().Terminal() {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			m.apply(ctx, machine, machine.Fail("cancelled"), fx)
		case <-watchdog:
			runErr = fmt.Errorf("%w: %s", ErrWatchdog, m.watchdog)
			m.apply(ctx, machine, machine.Fail("watchdog"), fx)
		case item, ok := <-lines:
			if !ok {
				runErr = ErrStreamClosed
				m.apply(ctx, machine, machine.Fail("stream closed"), fx)
				break
			}
			if item.err != nil {
				runErr = fmt.Errorf("%w: %w", ErrStreamClosed, item.err)
				m.apply(ctx, machine, machine.Fail("stream read failed"), fx)
				break
			}
			m.emit(item.line)
			step := machine.Step(strings.TrimRight(item.line, "\r"))
			metrics.RecordLogLine(step.Event.Kind.String())
			if err := m.apply(ctx, machine, step, fx); err != nil {
				runErr = err
			}
		}
	}

	outcome, _ := machine.Outcome()
	m.logger.Info(ctx, "run resolved", logger.String("outcome", outcome.String()))

	if machine.State() != Errored {
		m.drain(ctx, lines)
	}
	return outcome, runErr
}

// apply executes the effects of a step. A failed launch fails the machine
// and terminates the processes.
func (m *Monitor) apply(ctx context.Context, machine *Machine, step Step, fx Effects) error {
	var launchErr error
	for _, eff := range step.Effects {
		switch eff {
		case EffectLaunchController:
			m.logger.Info(ctx, "simulator ready, launching controller")
			if err := fx.LaunchController(ctx); err != nil {
				launchErr = fmt.Errorf("%w: %w", ErrControllerLaunch, err)
				m.logger.Error(ctx, "controller launch failed", logger.Error(err))
				metrics.RecordErrorByComponent("monitor", "launch")
				m.terminate(ctx, machine.Fail("controller launch failed"), fx)
				continue
			}
			metrics.RecordControllerLaunch()
		case EffectTerminate:
			m.terminate(ctx, step, fx)
		}
	}
	return launchErr
}

func (m *Monitor) terminate(ctx context.Context, step Step, fx Effects) {
	m.logger.Warn(ctx, "terminating run", logger.String("state", step.State.String()))
	if err := fx.Terminate(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn(ctx, "terminate reported errors", logger.Error(err))
	}
}

// drain keeps echoing output after a result so the simulator can finish
// writing its recording, until the stream ends or the drain timeout fires.
func (m *Monitor) drain(ctx context.Context, lines <-chan lineOrErr) {
	if m.drainTimeout == 0 {
		return
	}
	t := time.NewTimer(m.drainTimeout)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.logger.Warn(ctx, "drain timeout reached", logger.Duration("timeout", m.drainTimeout))
			return
		case item, ok := <-lines:
			if !ok || item.err != nil {
				return
			}
			m.emit(item.line)
			metrics.RecordLogLine("drain")
		}
	}
}

func (m *Monitor) emit(line string) {
	_, _ = io.WriteString(m.echo, line+"\n")
}

// read feeds lines to out until EOF, a read error, or done is closed.
func (m *Monitor) read(r io.Reader, out chan<- lineOrErr, done <-chan struct{}) {
	defer close(out)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(initialLineBuffer, m.maxLine)), m.maxLine)
	for sc.Scan() {
		select {
		case out <- lineOrErr{line: sc.Text()}:
		case <-done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case out <- lineOrErr{err: err}:
		case <-done:
		}
	}
}
