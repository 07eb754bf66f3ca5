package simplequeue

import (
	"fmt"
)

// Status holds the number of jobs per state of a queue.
type Status struct {
	Queue        string
	NumAvailable int
	NumReserved  int
	NumFailed    int
}

// NumJobs returns the total number of jobs of the queue.
// Valid to call on a nil receiver.
func (s *Status) NumJobs() int {
	if s == nil {
		return 0
	}
	return s.NumAvailable + s.NumReserved + s.NumFailed
}

// IsZero returns true if the receiver is nil
// or dereferenced equal to its zero value.
// Valid to call on a nil receiver.
func (s *Status) IsZero() bool {
	return s == nil || *s == Status{}
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (s *Status) String() string {
	if s == nil {
		return "nil Status"
	}
	return fmt.Sprintf("Status{Queue: %q, NumAvailable: %d, NumReserved: %d, NumFailed: %d}", s.Queue, s.NumAvailable, s.NumReserved, s.NumFailed)
}
