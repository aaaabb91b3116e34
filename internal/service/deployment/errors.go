package deployment

import "errors"

var (
	ErrNotFound        = errors.New("deployment not found")
	ErrAlreadyRunning  = errors.New("deployment is already running")
	ErrNoAvailableNode = errors.New("no available node")
	ErrArtifactMissing = errors.New("artifact file not found")
	ErrImmediateExit   = errors.New("process exited during stabilization")
)
