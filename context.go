package simplequeue

import (
	"context"
)

var ignoreJobKey int

// IgnoreJobFunc returns true for jobs that should not be stored.
type IgnoreJobFunc func(*Job) bool

func IgnoreAllJobs(*Job) bool { return true }

// ContextWithIgnoreJob returns a context that makes Client.Push
// discard jobs for which ignoreJob returns true.
// The ID of a discarded job is still returned.
func ContextWithIgnoreJob(ctx context.Context, ignoreJob IgnoreJobFunc) context.Context {
	return context.WithValue(ctx, &ignoreJobKey, ignoreJob)
}

// IgnoreJob returns true if ctx was created by ContextWithIgnoreJob
// with a function returning true for the job.
func IgnoreJob(ctx context.Context, job *Job) bool {
	if ignoreJob, ok := ctx.Value(&ignoreJobKey).(IgnoreJobFunc); ok {
		return ignoreJob(job)
	}
	return false
}
