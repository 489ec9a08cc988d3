package node

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalidStatus is returned when a lifecycle call does not fit the
// node's current status.
var ErrInvalidStatus = errors.New("invalid node status")

// Status is the lifecycle stage of a node.
type Status int

const (
	StatusNotReady Status = iota
	StatusReady
	StatusStarted
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusNotReady:
		return "not_ready"
	case StatusReady:
		return "ready"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle guards the status transitions
// NotReady -> Ready -> Started -> Stopped. A stopped node has released its
// resources and cannot be started again.
type lifecycle struct {
	mu     sync.Mutex
	status Status
}

func (l *lifecycle) get() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *lifecycle) ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusNotReady {
		return errors.Wrapf(ErrInvalidStatus, "ready from %s", l.status)
	}
	l.status = StatusReady
	return nil
}

func (l *lifecycle) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return errors.Wrapf(ErrInvalidStatus, "start from %s", l.status)
	}
	l.status = StatusStarted
	return nil
}

// stop reports whether the node was running or ready; stopping twice is a
// no-op.
func (l *lifecycle) stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusStopped {
		return false
	}
	l.status = StatusStopped
	return true
}
