package simplequeuedb

import (
	"strings"

	"github.com/domonda/go-errs"
)

const ErrUnsupportedDriver errs.Sentinel = "unsupported simplequeue driver"

// Driver selects the Backend implementation used by Open.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverRedis    Driver = "redis"
)

// Drivers returns all supported drivers.
func Drivers() []Driver {
	return []Driver{DriverSQLite, DriverPostgres, DriverMySQL, DriverRedis}
}

// ParseDriver returns the Driver for a case insensitive name
// or ErrUnsupportedDriver.
// "sqlite3", "postgresql" and "mariadb" are accepted as aliases.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "redis":
		return DriverRedis, nil
	}
	return "", errs.Errorf("%w: %q", ErrUnsupportedDriver, name)
}

// Valid returns true if d is one of the supported drivers.
func (d Driver) Valid() bool {
	switch d {
	case DriverSQLite, DriverPostgres, DriverMySQL, DriverRedis:
		return true
	}
	return false
}

// Validate returns ErrUnsupportedDriver if d is not valid.
func (d Driver) Validate() error {
	if !d.Valid() {
		return errs.Errorf("%w: %q", ErrUnsupportedDriver, string(d))
	}
	return nil
}

func (d Driver) String() string {
	return string(d)
}
