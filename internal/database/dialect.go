package database

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Family groups dialects that share a metadata catalog.
type Family string

const (
	FamilyMySQL    Family = "mysql"
	FamilyPostgres Family = "postgres"
	FamilySQLite   Family = "sqlite"
)

// Dialect describes how to reach one kind of database through database/sql.
type Dialect struct {
	Name        string
	Driver      string
	Family      Family
	DefaultPort string
	dsn         func(Params) (string, error)
}

var dialects = map[string]Dialect{
	"mysql": {
		Name:        "mysql",
		Driver:      "mysql",
		Family:      FamilyMySQL,
		DefaultPort: "3306",
		dsn:         mysqlDSN,
	},
	"postgres": {
		Name:        "postgres",
		Driver:      "postgres",
		Family:      FamilyPostgres,
		DefaultPort: "5432",
		dsn:         postgresDSN,
	},
	"pgx": {
		Name:        "pgx",
		Driver:      "pgx",
		Family:      FamilyPostgres,
		DefaultPort: "5432",
		dsn:         postgresDSN,
	},
	"sqlite": {
		Name:   "sqlite",
		Driver: "sqlite",
		Family: FamilySQLite,
		dsn:    sqliteDSN,
	},
}

// LookupDialect resolves a dialect by name; "postgresql" is accepted as an alias.
func LookupDialect(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "postgresql" {
		key = "postgres"
	}
	d, ok := dialects[key]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown database dialect %q (supported: %s)", name, strings.Join(DialectNames(), ", "))
	}
	return d, nil
}

// DialectNames lists the supported dialects in a stable order.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DSN renders p into the driver's connection string.
func (d Dialect) DSN(p Params) (string, error) {
	return d.dsn(p.withDefaults(d))
}

func mysqlDSN(p Params) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, p.Port)
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN(), nil
}

func postgresDSN(p Params) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + p.Database,
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else if p.User != "" {
		u.User = url.User(p.User)
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sqliteDSN opens files read-only; ":memory:" is passed through.
func sqliteDSN(p Params) (string, error) {
	path := strings.TrimSpace(p.Database)
	if path == "" {
		return "", fmt.Errorf("database file path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	return "file:" + path + "?mode=ro", nil
}
