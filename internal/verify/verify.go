// Package verify checks that a freshly provisioned credential can log in
// before it is promoted to current.
package verify

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
)

const defaultTimeout = 30 * time.Second

// Pinger is the part of *sql.DB the verifier needs. This allows for mocking
// in tests.
type Pinger interface {
	PingContext(ctx context.Context) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// OpenFunc opens a database handle.
type OpenFunc func(driver, dsn string) (Pinger, error)

// Verifier logs in with a credential and runs a trivial query.
type Verifier struct {
	driver  string
	dsn     *template.Template
	timeout time.Duration
	open    OpenFunc
}

// DSNData is the data the DSN template is rendered with.
type DSNData struct {
	Login    string
	Password string
}

var driverMap = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

var dsnFuncs = template.FuncMap{
	// quote renders a libpq key/value literal.
	"quote": func(s string) string {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
	},
}

// New creates a verifier from configuration. open may be nil to use
// database/sql.
func New(cfg config.VerifyConfig, timeout time.Duration, open OpenFunc) (*Verifier, error) {
	driver, ok := driverMap[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported verify driver: %s", cfg.Driver)
	}
	tmpl, err := template.New("dsn").Funcs(dsnFuncs).Option("missingkey=error").Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn template: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if open == nil {
		open = func(driver, dsn string) (Pinger, error) {
			return sql.Open(driver, dsn)
		}
	}
	return &Verifier{driver: driver, dsn: tmpl, timeout: timeout, open: open}, nil
}

// Driver returns the database/sql driver name.
func (v *Verifier) Driver() string {
	return v.driver
}

// Verify connects as login and runs SELECT 1. Errors never contain the password.
func (v *Verifier) Verify(ctx context.Context, login, password string) error {
	dsn, err := v.Render(login, password)
	if err != nil {
		return err
	}
	secrets := []string{password, dsn}

	db, err := v.open(v.driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %s", logging.Redact(err.Error(), secrets))
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("login %s failed: %s", login, logging.Redact(err.Error(), secrets))
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("login %s cannot query: %s", login, logging.Redact(err.Error(), secrets))
	}
	if one != 1 {
		return fmt.Errorf("login %s: unexpected result %d from SELECT 1", login, one)
	}
	return nil
}

// Render expands the DSN template for a credential.
func (v *Verifier) Render(login, password string) (string, error) {
	var buf bytes.Buffer
	if err := v.dsn.Execute(&buf, DSNData{Login: login, Password: password}); err != nil {
		return "", fmt.Errorf("failed to render dsn: %s", logging.Redact(err.Error(), []string{password}))
	}
	dsn := buf.String()
	if v.driver == "mysql" {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %s", logging.Redact(err.Error(), []string{password}))
		}
	}
	return dsn, nil
}
