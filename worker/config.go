package worker

import (
	"time"

	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-simplequeue"
)

var log = rootlog.NewPackageLogger()

func OverrideLogger(logger *golog.Logger) {
	log = logger
}

// DefaultRestInterval is the time a worker waits
// after every attempt to handle a job.
const DefaultRestInterval = 5 * time.Second

// Config of a worker loop.
// Use DefaultConfig for the defaults,
// the zero value disables error logging.
type Config struct {
	// Queue to work on, empty means simplequeue.DefaultQueue.
	Queue string

	// RestInterval is the time to wait after every attempt
	// to handle a job, whether a job was available or not.
	RestInterval time.Duration

	// Limit is the maximum number of attempts to handle a job.
	// Zero means unlimited.
	Limit int

	// LogResults logs the result of every successful attempt.
	LogResults bool

	// LogErrors logs the error of every failed job.
	LogErrors bool

	// StopOnFailure stops the worker after the first failed job
	// and makes Work return its error.
	StopOnFailure bool

	// Logger used instead of the package logger if not nil.
	Logger *golog.Logger

	// OnResult is called with every result that is logged.
	OnResult func(result any)

	// OnError is called with every error that is logged.
	OnError func(err error)
}

// DefaultConfig returns a Config working on simplequeue.DefaultQueue
// with DefaultRestInterval and error logging.
func DefaultConfig() Config {
	return Config{
		Queue:        simplequeue.DefaultQueue,
		RestInterval: DefaultRestInterval,
		LogErrors:    true,
	}
}

func (c *Config) logger() *golog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log
}

func (c *Config) onResult(result any) {
	if c.OnResult != nil {
		c.OnResult(result)
	}
}

func (c *Config) onError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
