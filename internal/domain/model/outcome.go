package model

import (
	"strconv"
)

// OutcomeKind tags a RunOutcome.
type OutcomeKind int

// Outcome kinds. The zero value is not a valid outcome.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeTimeout
	OutcomeErrored
)

// RunOutcome is the single terminal result of a run.
type RunOutcome struct {
	kind   OutcomeKind
	value  float64
	reason string
}

// Success is a run that reported a raw performance value.
func Success(value float64) RunOutcome {
	return RunOutcome{kind: OutcomeSuccess, value: value}
}

// Timeout is a run the simulator ended because the controller ran out of time.
func Timeout() RunOutcome {
	return RunOutcome{kind: OutcomeTimeout}
}

// Errored is a run that failed; reason is for logs only.
func Errored(reason string) RunOutcome {
	return RunOutcome{kind: OutcomeErrored, reason: reason}
}

// Kind returns the outcome tag.
func (o RunOutcome) Kind() OutcomeKind { return o.kind }

// Value returns the raw value of a successful run.
func (o RunOutcome) Value() (float64, bool) {
	return o.value, o.kind == OutcomeSuccess
}

// Reason returns why an errored run failed.
func (o RunOutcome) Reason() string { return o.reason }

// IsZero reports whether the outcome was never set.
func (o RunOutcome) IsZero() bool { return o.kind == 0 }

// Label is the metrics/log label of the outcome.
func (o RunOutcome) Label() string {
	switch o.kind {
	case OutcomeSuccess:
		return "completed"
	case OutcomeTimeout:
		return "timed_out"
	case OutcomeErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (o RunOutcome) String() string {
	switch o.kind {
	case OutcomeSuccess:
		return "completed(" + FormatRaw(o.value) + ")"
	case OutcomeErrored:
		return "errored(" + o.reason + ")"
	default:
		return o.Label()
	}
}

// FormatRaw renders a raw value with the fewest digits that round-trip.
func FormatRaw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
