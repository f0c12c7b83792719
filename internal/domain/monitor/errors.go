package monitor

import "errors"

// Sentinel kinds for run monitoring errors. All of them accompany an
// Errored outcome; none aborts a batch.
var (
	ErrStreamClosed     = errors.New("simulator output closed before a result")
	ErrWatchdog         = errors.New("no result before the watchdog deadline")
	ErrControllerLaunch = errors.New("controller launch failed")
)
