package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strconv"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-sqldb"
	"github.com/domonda/go-sqldb/impl"
	"github.com/go-sql-driver/mysql"
)

// openMySQL connects to a MySQL database using github.com/go-sql-driver/mysql
// wrapped as a generic go-sqldb connection with "?" placeholders.
func openMySQL(ctx context.Context, config *sqldb.Config) (conn sqldb.Connection, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, config)

	if err = config.Validate(); err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mysqlConfig(config))
	if err != nil {
		return nil, err
	}
	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	if err = sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Join(err, sqlDB.Close())
	}
	config.DefaultIsolationLevel = sql.LevelRepeatableRead // mysql default
	return impl.Connection(ctx, sqlDB, config, validateMySQLColumnName, "?"), nil
}

func mysqlConfig(config *sqldb.Config) *mysql.Config {
	port := config.Port
	if port == 0 {
		port = 3306
	}
	c := mysql.NewConfig()
	c.User = config.User
	c.Passwd = config.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(config.Host, strconv.Itoa(int(port)))
	c.DBName = config.Database
	if len(config.Extra) > 0 {
		c.Params = make(map[string]string, len(config.Extra))
		for key, val := range config.Extra {
			c.Params[key] = val
		}
	}
	return c
}

func validateMySQLColumnName(name string) error {
	if name == "" {
		return errs.New("empty column name")
	}
	for _, r := range name {
		if r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return errs.Errorf("invalid MySQL column name %q", name)
		}
	}
	return nil
}
