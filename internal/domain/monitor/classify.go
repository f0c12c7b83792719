// Package monitor classifies the simulator's output and drives a run from
// "waiting for the simulator" to a single terminal outcome.
package monitor

import (
	"math"
	"strconv"
	"strings"
)

// Sentinels printed by the simulator and its supervisor.
const (
	SentinelReady       = "waiting for connection"
	SentinelReadyAlt    = "ready for controller connection"
	SentinelPerformance = "performance_line:"
	SentinelTimeout     = "Controller timeout"
	sentinelExit        = "'supervisor' controller exited with status:"
)

// EventKind is the class of one output line.
type EventKind int

// Event kinds.
const (
	EventNone EventKind = iota
	EventReady
	EventPerformance
	EventTimeout
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventPerformance:
		return "performance"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	default:
		return "none"
	}
}

// Event is a classified line. Value is set for EventPerformance only.
type Event struct {
	Kind  EventKind
	Value float64
}

// Classify maps one line to an event. Rules are checked in order:
// error, ready, performance, timeout.
func Classify(line string) Event {
	if isError(line) {
		return Event{Kind: EventError}
	}
	if strings.Contains(line, SentinelReady) || strings.Contains(line, SentinelReadyAlt) {
		return Event{Kind: EventReady}
	}
	if i := strings.Index(line, SentinelPerformance); i >= 0 {
		payload := strings.TrimSpace(line[i+len(SentinelPerformance):])
		v, err := strconv.ParseFloat(payload, 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return Event{Kind: EventPerformance, Value: v}
		}
		return Event{Kind: EventNone}
	}
	if strings.Contains(line, SentinelTimeout) {
		return Event{Kind: EventTimeout}
	}
	return Event{Kind: EventNone}
}

func isError(line string) bool {
	if strings.Contains(line, "docker") && strings.Contains(line, "Error") {
		return true
	}
	i := strings.Index(line, sentinelExit)
	if i < 0 {
		return false
	}
	rest := strings.TrimSpace(line[i+len(sentinelExit):])
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	status, err := strconv.Atoi(rest[:end])
	return err == nil && status != 0
}
