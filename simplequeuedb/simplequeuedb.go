// Package simplequeuedb opens a simplequeue.Client
// for a Backend selected by a Driver, typically configured
// with environment variables.
package simplequeuedb

import (
	"context"

	"github.com/domonda/go-errs"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-simplequeue"
	"github.com/domonda/go-simplequeue/redisqueue"
	"github.com/domonda/go-simplequeue/sqlitequeue"
	"github.com/domonda/go-simplequeue/sqlqueue"
)

var log = rootlog.NewPackageLogger()

func OverrideLogger(logger *golog.Logger) {
	log = logger
}

// Open opens the Backend selected by config
// and returns a Client using it.
// Closing the Client closes the Backend.
// The schema is not created, call Client.CreateSchema for that.
func Open(ctx context.Context, config *Config, opts ...simplequeue.ClientOption) (client *simplequeue.Client, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, config)

	backend, err := OpenBackend(ctx, config)
	if err != nil {
		return nil, err
	}
	return simplequeue.New(backend, opts...), nil
}

// OpenBackend opens the Backend selected by config.
func OpenBackend(ctx context.Context, config *Config) (backend simplequeue.Backend, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, config)

	if config == nil {
		return nil, errs.New("nil Config")
	}
	config = config.WithDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	switch config.Driver {
	case DriverSQLite:
		backend, err = sqlitequeue.New(ctx, config.DSN)

	case DriverPostgres, DriverMySQL:
		dbConfig, e := sqlqueue.ConfigFromURL(config.DSN)
		if e != nil {
			return nil, e
		}
		if dbConfig.Driver != config.Driver.String() {
			return nil, errs.Errorf("DSN for driver %s has the scheme of %s", config.Driver, dbConfig.Driver)
		}
		backend, err = sqlqueue.Open(ctx, dbConfig)

	case DriverRedis:
		var opts []redisqueue.Option
		if config.LockExpiry > 0 {
			opts = append(opts, redisqueue.WithLockExpiry(config.LockExpiry))
		}
		backend, err = redisqueue.Open(ctx, config.DSN, opts...)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Opened backend").
		Str("driver", config.Driver.String()).
		Log()

	return backend, nil
}
