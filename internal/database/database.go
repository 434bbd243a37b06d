// Package database owns the single connection handle of a chat session.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/JonMunkholm/dbchat/internal/failure"
)

const pingTimeout = 10 * time.Second

// Params are the credentials collected by the connect form.
type Params struct {
	Dialect  string `schema:"dialect" json:"dialect"`
	Host     string `schema:"host" json:"host"`
	Port     string `schema:"port" json:"port"`
	User     string `schema:"user" json:"user"`
	Password string `schema:"password" json:"password"`
	Database string `schema:"database" json:"database"`
	SSLMode  string `schema:"sslmode" json:"sslmode,omitempty"`
}

func (p Params) withDefaults(d Dialect) Params {
	p.Host = strings.TrimSpace(p.Host)
	p.Port = strings.TrimSpace(p.Port)
	p.User = strings.TrimSpace(p.User)
	p.Database = strings.TrimSpace(p.Database)
	if p.Port == "" {
		p.Port = d.DefaultPort
	}
	if p.SSLMode == "" {
		if isLocalHost(p.Host) {
			p.SSLMode = "disable"
		} else {
			p.SSLMode = "require"
		}
	}
	return p
}

// Label is a credential-free description such as "mysql root@localhost:3306/shop".
func (p Params) Label() string {
	if strings.EqualFold(p.Dialect, "sqlite") {
		return "sqlite " + p.Database
	}
	return fmt.Sprintf("%s %s@%s/%s", p.Dialect, p.User, net.JoinHostPort(p.Host, p.Port), p.Database)
}

// Conn is one live handle plus the dialect it speaks.
type Conn struct {
	dialect Dialect
	params  Params
	db      *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Connect opens and pings a handle limited to a single open connection.
// Failures are failure.Connection errors carrying the driver message unmodified.
func Connect(ctx context.Context, p Params) (*Conn, error) {
	d, err := LookupDialect(p.Dialect)
	if err != nil {
		return nil, failure.Wrap(failure.Connection, err.Error(), err)
	}
	p = p.withDefaults(d)
	p.Dialect = d.Name

	dsn, err := d.DSN(p)
	if err != nil {
		return nil, failure.Wrap(failure.Connection, err.Error(), err)
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, connectionFailure(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, connectionFailure(err)
	}

	p.Password = ""
	return &Conn{dialect: d, params: p, db: db}, nil
}

// Wrap adopts an already-open handle, e.g. a sqlmock or in-memory database.
func Wrap(db *sql.DB, dialect string) (*Conn, error) {
	d, err := LookupDialect(dialect)
	if err != nil {
		return nil, err
	}
	return &Conn{dialect: d, params: Params{Dialect: d.Name}, db: db}, nil
}

func (c *Conn) DB() *sql.DB      { return c.db }
func (c *Conn) Dialect() Dialect { return c.dialect }
func (c *Conn) Label() string    { return c.params.Label() }
func (c *Conn) Family() Family   { return c.dialect.Family }

// Close releases the handle. Safe to call more than once.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		if c.db != nil {
			c.closeErr = c.db.Close()
		}
	})
	return c.closeErr
}

const (
	hintUnknownDatabase = "Database not found. Please check the database name and try again."
	hintAccessDenied    = "Access denied. Please verify your username and password."
	hintUnreachable     = "Cannot connect to the database server. Please check the host and port."
)

func connectionFailure(err error) error {
	fe := failure.Wrap(failure.Connection, err.Error(), err)
	if hint := ConnectionHint(err); hint != "" {
		return fe.WithHint(hint)
	}
	return fe
}

// ConnectionHint maps well-known driver error codes to advice for the user.
func ConnectionHint(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1049:
			return hintUnknownDatabase
		case 1044, 1045:
			return hintAccessDenied
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if h := postgresHint(string(pqErr.Code)); h != "" {
			return h
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if h := postgresHint(pgErr.Code); h != "" {
			return h
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return hintUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return hintUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown database"), strings.Contains(msg, "does not exist") && strings.Contains(msg, "database"):
		return hintUnknownDatabase
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "password authentication failed"):
		return hintAccessDenied
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "i/o timeout"):
		return hintUnreachable
	}
	return ""
}

func postgresHint(code string) string {
	switch code {
	case "3D000":
		return hintUnknownDatabase
	case "28P01", "28000":
		return hintAccessDenied
	}
	return ""
}

func isLocalHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "":
		return true
	}
	return false
}
