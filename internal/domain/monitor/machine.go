package monitor

import (
	"github.com/okian/benchrec/internal/domain/model"
)

// State is the phase of a run as seen through its output.
type State int

// Run states. Completed, TimedOut and Errored are terminal.
const (
	WaitingForReady State = iota
	ControllerLaunched
	Completed
	TimedOut
	Errored
)

func (s State) String() string {
	switch s {
	case WaitingForReady:
		return "waiting_for_ready"
	case ControllerLaunched:
		return "controller_launched"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == TimedOut || s == Errored
}

// Effect is a side effect the caller must perform after a step.
type Effect int

// Effects requested by the machine.
const (
	EffectLaunchController Effect = iota + 1
	EffectTerminate
)

// Step is the result of feeding one line to the Machine.
type Step struct {
	Event   Event
	State   State
	Effects []Effect
}

// Machine is the run state machine. It performs no I/O; callers execute
// the returned effects. Not safe for concurrent use.
type Machine struct {
	state  State
	value  float64
	reason string
}

// NewMachine returns a machine waiting for the simulator.
func NewMachine() *Machine {
	return &Machine{state: WaitingForReady}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Step classifies line and advances the machine.
func (m *Machine) Step(line string) Step {
	ev := Classify(line)
	step := Step{Event: ev, State: m.state}
	if m.state.Terminal() {
		return step
	}

	switch ev.Kind {
	case EventError:
		m.state = Errored
		m.reason = "simulator reported an error"
		step.Effects = []Effect{EffectTerminate}
	case EventReady:
		if m.state == WaitingForReady {
			m.state = ControllerLaunched
			step.Effects = []Effect{EffectLaunchController}
		}
	case EventPerformance:
		if m.state == ControllerLaunched {
			m.state = Completed
			m.value = ev.Value
		}
	case EventTimeout:
		if m.state == ControllerLaunched {
			m.state = TimedOut
		}
	case EventNone:
	}

	step.State = m.state
	return step
}

// Fail moves a non-terminal machine to Errored, for failures observed
// outside the stream (closed stream, launch failure, watchdog).
func (m *Machine) Fail(reason string) Step {
	step := Step{State: m.state}
	if m.state.Terminal() {
		return step
	}
	m.state = Errored
	m.reason = reason
	step.State = m.state
	step.Effects = []Effect{EffectTerminate}
	return step
}

// Outcome returns the run outcome once the machine is terminal.
func (m *Machine) Outcome() (model.RunOutcome, bool) {
	switch m.state {
	case Completed:
		return model.Success(m.value), true
	case TimedOut:
		return model.Timeout(), true
	case Errored:
		return model.Errored(m.reason), true
	default:
		return model.RunOutcome{}, false
	}
}
