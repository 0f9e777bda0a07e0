// Package database opens the relational store behind the taxonomy.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour of an open connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Config struct {
	Driver          string `envconfig:"DB_DRIVER" default:"postgres"`
	URL             string `envconfig:"DATABASE_URL"`
	Host            string `envconfig:"DB_HOST" default:"localhost"`
	Port            string `envconfig:"DB_PORT" default:"5432"`
	User            string `envconfig:"DB_USER" default:"postgres"`
	Password        string `envconfig:"DB_PASSWORD"`
	Name            string `envconfig:"DB_NAME" default:"wuxing"`
	SSLMode         string `envconfig:"DB_SSLMODE" default:"disable"`
	Path            string `envconfig:"DB_PATH" default:"wuxing.db"`
	MaxOpenConns    int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	ConnMaxLifetime int    `envconfig:"DB_CONN_MAX_LIFETIME" default:"300"`
}

// Dialect returns the configured dialect.
func (c *Config) Dialect() (Dialect, error) {
	switch Dialect(c.Driver) {
	case Postgres, "":
		return Postgres, nil
	case SQLite:
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
}

// DSN builds a connection string for the configured driver.
func (c *Config) DSN() (string, error) {
	d, err := c.Dialect()
	if err != nil {
		return "", err
	}
	if c.URL != "" {
		return c.URL, nil
	}
	if d == SQLite {
		if c.Path == "" {
			return "", fmt.Errorf("sqlite configuration incomplete: DB_PATH required")
		}
		return c.Path, nil
	}
	if c.Host == "" || c.Name == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode), nil
}

// Open connects and pings the database.
func (c *Config) Open(ctx context.Context) (*sql.DB, Dialect, error) {
	d, err := c.Dialect()
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.DSN()
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", d, err)
	}
	if d == SQLite {
		// single writer; also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	} else if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", d, err)
	}
	return db, d, nil
}

var positional = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $N placeholders for dialects that only take "?".
func Rebind(d Dialect, query string) string {
	if d != SQLite {
		return query
	}
	return positional.ReplaceAllString(query, "?")
}
