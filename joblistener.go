package simplequeue

import (
	"context"
	"sync"
)

// JobStoppedListener is notified after a handler returned for a job
// and the job was deleted or marked as failed.
// jobErr is the error of the handler or nil if the job was deleted.
type JobStoppedListener interface {
	OnJobStopped(ctx context.Context, job *Job, jobErr error)
}

type JobStoppedListenerFunc func(ctx context.Context, job *Job, jobErr error)

func (f JobStoppedListenerFunc) OnJobStopped(ctx context.Context, job *Job, jobErr error) {
	f(ctx, job, jobErr)
}

var (
	jobStoppedListeners    []JobStoppedListener
	jobStoppedListenersMtx sync.RWMutex
)

// AddJobStoppedListener registers a listener for all clients.
func AddJobStoppedListener(listener JobStoppedListener) {
	jobStoppedListenersMtx.Lock()
	defer jobStoppedListenersMtx.Unlock()

	jobStoppedListeners = append(jobStoppedListeners, listener)
}

// RemoveJobStoppedListener removes a listener
// registered with AddJobStoppedListener.
func RemoveJobStoppedListener(listener JobStoppedListener) {
	jobStoppedListenersMtx.Lock()
	defer jobStoppedListenersMtx.Unlock()

	for i := range jobStoppedListeners {
		if jobStoppedListeners[i] == listener {
			jobStoppedListeners = append(jobStoppedListeners[:i:i], jobStoppedListeners[i+1:]...)
			return
		}
	}
}

func notifyJobStopped(ctx context.Context, job *Job, jobErr error) {
	jobStoppedListenersMtx.RLock()
	listeners := jobStoppedListeners
	jobStoppedListenersMtx.RUnlock()

	for _, listener := range listeners {
		listener.OnJobStopped(ctx, job.Clone(), jobErr)
	}
}
