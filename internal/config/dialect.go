package config

import (
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

func init() {
	// go-ora registers as "oracle", which sqlx does not know the bind style of.
	sqlx.BindDriver("oracle", sqlx.NAMED)
}

// dialect describes one supported backing database for the credential store.
type dialect struct {
	name       string // value of store.driver
	driverName string // database/sql driver name
	migrations []string
}

var dialects = map[string]dialect{
	"sqlite":    {name: "sqlite", driverName: "sqlite", migrations: sqliteMigrations},
	"postgres":  {name: "postgres", driverName: "pgx", migrations: postgresMigrations},
	"mysql":     {name: "mysql", driverName: "mysql", migrations: mysqlMigrations},
	"sqlserver": {name: "sqlserver", driverName: "sqlserver", migrations: sqlserverMigrations},
	"oracle":    {name: "oracle", driverName: "oracle", migrations: oracleMigrations},
}

var driverAliases = map[string]string{
	"":           "sqlite",
	"sqlite3":    "sqlite",
	"pgx":        "postgres",
	"postgresql": "postgres",
	"mssql":      "sqlserver",
	"mariadb":    "mysql",
}

// SupportedDrivers lists the store.driver values NewStore accepts.
func SupportedDrivers() []string {
	return []string{"sqlite", "postgres", "mysql", "sqlserver", "oracle"}
}

func lookupDialect(driver string) (dialect, error) {
	name := strings.ToLower(strings.TrimSpace(driver))
	if alias, ok := driverAliases[name]; ok {
		name = alias
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return d, nil
}

// prepareDSN applies driver-specific DSN fixes before connecting.
func (d dialect) prepareDSN(dsn string) (string, error) {
	if d.name != "mysql" {
		return dsn, nil
	}
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	// DATETIME columns must scan into time.Time.
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// isUniqueViolation reports whether err is a unique-constraint violation
// raised by any of the supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 2627 || msErr.Number == 2601
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "ORA-00001") // oracle
}

// isAlreadyExists reports whether a migration failed only because the object
// it creates is already there. Dialects without IF NOT EXISTS rely on this
// for idempotent migrations.
func isAlreadyExists(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"duplicate column",                 // sqlite ALTER TABLE ADD COLUMN
		"already exists",                   // postgres, mysql 1050, mssql index
		"Duplicate key name",               // mysql 1061
		"There is already an object named", // mssql 2714
		"ORA-00955",                        // oracle: name already used
		"ORA-01408",                        // oracle: column list already indexed
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
