package redisqueue

import (
	"strings"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
)

// Redis key naming of jobs: {state prefix}{queue}/{uuid}
// A job exists under exactly one state prefix at any time.
const (
	availablePrefix = "jobs_available:"
	reservedPrefix  = "jobs_reserved:"
	failedPrefix    = "jobs_failed:"

	// lockPrefix is used for redsync mutexes: jobs:locks:{queue}/{uuid}
	lockPrefix = "jobs:locks:"

	// purgePattern matches the keys of all states
	purgePattern = "jobs_*"
)

var statePrefixes = []string{availablePrefix, reservedPrefix, failedPrefix}

func jobKey(prefix, queue string, jobID uu.ID) string {
	return prefix + queue + "/" + jobID.String()
}

// jobKeys returns the keys of the job under all state prefixes.
func jobKeys(queue string, jobID uu.ID) []string {
	keys := make([]string, len(statePrefixes))
	for i, prefix := range statePrefixes {
		keys[i] = jobKey(prefix, queue, jobID)
	}
	return keys
}

func lockKey(queue string, jobID uu.ID) string {
	return lockPrefix + queue + "/" + jobID.String()
}

// queuePattern returns the SCAN MATCH pattern
// for all jobs of a queue with the state prefix.
func queuePattern(prefix, queue string) string {
	return prefix + escapeGlob(queue) + "/*"
}

// idPattern returns the SCAN MATCH pattern
// for the job with jobID in any queue with the state prefix.
func idPattern(prefix string, jobID uu.ID) string {
	return prefix + "*/" + jobID.String()
}

// escapeGlob escapes the Redis glob-style pattern characters of s.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]^\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '^', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseJobKey splits a job key into state prefix, queue, and job ID.
func parseJobKey(key string) (prefix, queue string, jobID uu.ID, err error) {
	for _, p := range statePrefixes {
		if strings.HasPrefix(key, p) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return "", "", uu.IDNil, errs.Errorf("invalid job key %q", key)
	}
	rest := key[len(prefix):]
	slash := strings.LastIndexByte(rest, '/')
	if slash < 0 {
		return "", "", uu.IDNil, errs.Errorf("invalid job key %q", key)
	}
	jobID, err = uu.IDFromString(rest[slash+1:])
	if err != nil {
		return "", "", uu.IDNil, errs.Errorf("invalid job key %q: %w", key, err)
	}
	return prefix, rest[:slash], jobID, nil
}
