package simplequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/domonda/go-types/notnull"
	"github.com/domonda/go-types/nullable"
	"github.com/domonda/go-types/uu"
)

// DefaultQueue is the queue used when no queue name is given.
const DefaultQueue = "default"

// Job is the persisted unit of work.
//
// A job is available if ReservedAt and FailedAt are nil,
// failed if FailedAt is set and ReservedAt is nil,
// and reserved if ReservedAt is set.
// Timestamps are unix seconds.
type Job struct {
	ID         uu.ID        `db:"uuid"        json:"uuid"`
	Queue      string       `db:"queue"       json:"queue"`
	Payload    notnull.JSON `db:"payload"     json:"payload"`
	CreatedAt  int64        `db:"created_at"  json:"created_at"`
	ReservedAt *int64       `db:"reserved_at" json:"reserved_at"`
	FailedAt   *int64       `db:"failed_at"   json:"failed_at"`
}

// IsAvailable returns true if the job is neither reserved nor failed.
// Valid to call on a nil receiver.
func (j *Job) IsAvailable() bool {
	return j != nil && j.ReservedAt == nil && j.FailedAt == nil
}

// IsFailed returns true if the job failed and is not reserved again.
// Valid to call on a nil receiver.
func (j *Job) IsFailed() bool {
	return j != nil && j.FailedAt != nil && j.ReservedAt == nil
}

// IsReserved returns true if a worker holds the job.
// Valid to call on a nil receiver.
func (j *Job) IsReserved() bool {
	return j != nil && j.ReservedAt != nil
}

// State returns the name of the lifecycle state of the job:
// "available", "reserved", or "failed".
func (j *Job) State() string {
	switch {
	case j.IsReserved():
		return StateReserved
	case j.IsFailed():
		return StateFailed
	default:
		return StateAvailable
	}
}

const (
	StateAvailable = "available"
	StateReserved  = "reserved"
	StateFailed    = "failed"
)

// Reserved returns a copy of the job stamped as reserved at now.
// FailedAt is cleared.
func (j *Job) Reserved(now int64) *Job {
	c := j.Clone()
	c.ReservedAt = &now
	c.FailedAt = nil
	return c
}

// Failed returns a copy of the job stamped as failed at now.
// ReservedAt is cleared.
func (j *Job) Failed(now int64) *Job {
	c := j.Clone()
	c.FailedAt = &now
	c.ReservedAt = nil
	return c
}

// Clone returns a deep copy of the job.
// Valid to call on a nil receiver.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = append(notnull.JSON(nil), j.Payload...)
	if j.ReservedAt != nil {
		t := *j.ReservedAt
		c.ReservedAt = &t
	}
	if j.FailedAt != nil {
		t := *j.FailedAt
		c.FailedAt = &t
	}
	return &c
}

// UnmarshalPayload unmarshals the JSON payload of the job to dest.
func (j *Job) UnmarshalPayload(dest any) error {
	return j.Payload.UnmarshalTo(dest)
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (j *Job) String() string {
	if j == nil {
		return "nil Job"
	}
	return fmt.Sprintf("Job %s, queue '%s', %s, created at %s", j.ID, j.Queue, j.State(), time.Unix(j.CreatedAt, 0).UTC())
}

// UnixNow returns the current time as unix seconds,
// the timestamp format of all job timestamps.
func UnixNow() int64 {
	return time.Now().Unix()
}

// QueueName returns DefaultQueue for an empty queue
// or validates and returns the passed queue name.
func QueueName(queue string) (string, error) {
	if queue == "" {
		return DefaultQueue, nil
	}
	if strings.ContainsRune(queue, '/') {
		return "", fmt.Errorf("%w: %q contains '/'", ErrInvalidQueueName, queue)
	}
	return queue, nil
}

// NewJob creates an available Job with a new random ID but does not push it.
// The passed payload will be marshalled to JSON or directly interpreted as JSON if possible.
func NewJob(queue string, payload any) (*Job, error) {
	return NewJobWithID(uu.IDv4(), queue, payload)
}

// NewJobWithID creates an available Job with the passed ID but does not push it.
func NewJobWithID(id uu.ID, queue string, payload any) (*Job, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid job ID %s", id)
	}
	queue, err := QueueName(queue)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        id,
		Queue:     queue,
		Payload:   payloadJSON,
		CreatedAt: UnixNow(),
	}
	return job, nil
}

func marshalPayload(payload any) (payloadJSON notnull.JSON, err error) {
	if payload == nil {
		return nil, errors.New("nil job payload")
	}

	switch x := payload.(type) {
	case notnull.JSON:
		payloadJSON = x

	case nullable.JSON:
		payloadJSON = notnull.JSON(x)

	case json.RawMessage:
		payloadJSON = notnull.JSON(x)

	case []byte:
		payloadJSON = notnull.JSON(x)

	case string:
		payloadJSON = notnull.JSON(x)

	case json.Marshaler:
		payloadJSON, err = x.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("job payload is not valid JSON: %#v, error: %w", x, err)
		}

	default:
		payloadJSON, err = notnull.MarshalJSON(x)
		if err != nil {
			return nil, fmt.Errorf("job payload is not valid JSON: %#v, error: %w", x, err)
		}
	}

	if !payloadJSON.Valid() {
		return nil, fmt.Errorf("job payload is not valid JSON: %#v", string(payloadJSON))
	}
	// Copy so that the caller can't mutate the payload after the push
	return append(notnull.JSON(nil), payloadJSON...), nil
}
