package simplequeuedb

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/domonda/go-errs"
	"github.com/joho/godotenv"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDriver     = "SIMPLEQUEUE_DRIVER"
	EnvDSN        = "SIMPLEQUEUE_DSN"
	EnvLockExpiry = "SIMPLEQUEUE_LOCK_EXPIRY"
)

// DefaultSQLiteFile is used by Open as DSN when none is configured
// and the driver is DriverSQLite.
const DefaultSQLiteFile = "simplequeue.db"

// Config selects and configures the Backend opened by Open.
type Config struct {
	Driver Driver

	// DSN is the SQLite database file, a postgres:// URL,
	// a mysql:// URL or a redis:// URL depending on Driver.
	// An empty DSN for DriverSQLite means DefaultSQLiteFile.
	DSN string

	// LockExpiry of the per job locks of DriverRedis.
	// Zero means redisqueue.DefaultLockExpiry.
	LockExpiry time.Duration
}

// Validate returns an error if the driver is not supported
// or the DSN is missing.
// Use WithDefaults before validating to fill in the SQLite DSN.
func (c *Config) Validate() error {
	if err := c.Driver.Validate(); err != nil {
		return err
	}
	if c.DSN == "" {
		return errs.Errorf("missing DSN for driver %s", c.Driver)
	}
	if c.LockExpiry < 0 {
		return errs.Errorf("negative lock expiry: %s", c.LockExpiry)
	}
	return nil
}

// WithDefaults returns a copy of the Config
// with DefaultSQLiteFile as DSN for DriverSQLite without DSN.
func (c Config) WithDefaults() *Config {
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = DefaultSQLiteFile
	}
	return &c
}

// ConfigFromEnv loads an optional .env file from the working directory
// and returns a Config from the SIMPLEQUEUE_* environment variables.
// Variables already set in the environment take precedence over the .env file.
// Without SIMPLEQUEUE_DRIVER the SQLite driver is used.
// The returned Config is not validated so that callers
// can override values before passing it to Open.
func ConfigFromEnv() (config *Config, err error) {
	defer errs.WrapWithFuncParams(&err)

	err = godotenv.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("No .env file found").Log()
	case err != nil:
		return nil, err
	default:
		log.Debug("Loaded .env file").Log()
	}

	config = &Config{
		Driver: DriverSQLite,
		DSN:    os.Getenv(EnvDSN),
	}
	if name := os.Getenv(EnvDriver); name != "" {
		config.Driver, err = ParseDriver(name)
		if err != nil {
			return nil, err
		}
	}
	if expiry := os.Getenv(EnvLockExpiry); expiry != "" {
		config.LockExpiry, err = time.ParseDuration(expiry)
		if err != nil {
			return nil, errs.Errorf("invalid %s: %w", EnvLockExpiry, err)
		}
	}

	log.Debug("Config from environment").
		Str("driver", config.Driver.String()).
		Any("dsnSet", config.DSN != "").
		Log()

	return config, nil
}
