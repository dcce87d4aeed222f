package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/service/logger"
)

const uniqueViolation = "23505"

type connectionParams struct {
	user     string
	password string
	dbname   string
	host     string
	port     int
	retry    bool
}

func (c *connectionParams) toConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", c.host, c.port, c.user, c.password, c.dbname)
}

type ConnectionOption func(params *connectionParams)

func WithUser(user string) ConnectionOption {
	return func(params *connectionParams) {
		params.user = user
	}
}

func WithPassword(password string) ConnectionOption {
	return func(params *connectionParams) {
		params.password = password
	}
}

func WithDBName(dbname string) ConnectionOption {
	return func(params *connectionParams) {
		params.dbname = dbname
	}
}

func WithHost(host string) ConnectionOption {
	return func(params *connectionParams) {
		params.host = host
	}
}

func WithPort(port int) ConnectionOption {
	return func(params *connectionParams) {
		params.port = port
	}
}

func WithNoRetries() ConnectionOption {
	return func(params *connectionParams) {
		params.retry = false
	}
}

func newConnectionParamsFromEnv() connectionParams {
	return connectionParams{
		user:     env.GetString("POSTGRES_USER"),
		password: env.GetString("POSTGRES_PASSWORD"),
		dbname:   env.GetString("POSTGRES_DB"),
		host:     env.GetString("POSTGRES_HOST"),
		port:     env.GetInt("POSTGRES_PORT"),
		retry:    true,
	}
}

// MustCreateClient connects to postgres using the POSTGRES_* environment, overridden by opts
func MustCreateClient(opts ...ConnectionOption) *sql.DB {
	client, err := NewClient(opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// NewClient connects to postgres and waits until the server answers pings
func NewClient(opts ...ConnectionOption) (*sql.DB, error) {
	params := newConnectionParamsFromEnv()
	for _, opt := range opts {
		opt(&params)
	}

	logger.For(nil).Infof("connecting to postgres at %s:%d", params.host, params.port)

	db, err := sql.Open("postgres", params.toConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	attempts := 1
	if params.retry {
		attempts = 5
	}

	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}
		logger.For(nil).WithError(err).Warnf("failed to ping postgres (attempt %d/%d)", i+1, attempts)
		time.Sleep(time.Duration(i+1) * time.Second)
	}

	db.Close()
	return nil, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func checkNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// stmtIn binds a prepared statement to tx. A nil tx leaves the statement on the pool.
func stmtIn(ctx context.Context, tx *sql.Tx, stmt *sql.Stmt) *sql.Stmt {
	if tx == nil {
		return stmt
	}
	return tx.StmtContext(ctx, stmt)
}
