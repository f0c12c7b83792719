package container

import "errors"

// Sentinel kinds for container lifecycle errors.
var (
	ErrBuild     = errors.New("image build failed")
	ErrLaunch    = errors.New("container launch failed")
	ErrTerminate = errors.New("container termination failed")
)
