package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	DefaultMaxOpenConnections = 20
	DefaultMaxIdleConnections = 5
	DefaultConnMaxIdleTime    = 5 * time.Minute
	DefaultQueryTimeout       = 10 * time.Second

	// goqu.From and friends build with the "default" dialect; overriding it
	// makes package-level datasets emit postgres placeholders.
	dialect = "default"
)

var (
	ErrNoRows     = sql.ErrNoRows
	ErrTxNotFound = errors.New("transaction not found in context")
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConnections
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConnections
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

// Client executes goqu datasets over a sqlx pool. A transaction started with
// BeginTx travels in the returned context and is picked up by every call
// made with that context.
type Client struct {
	db      *sqlx.DB
	Goqu    *goqu.Database
	timeout time.Duration
}

type txKey struct{}

func init() {
	opts := postgres.DialectOptions()
	opts.SupportsWithCTE = true
	goqu.RegisterDialect(dialect, opts)
	goqu.SetDefaultPrepared(true)
}

func NewDB(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{
		db:      db,
		Goqu:    goqu.New(dialect, db),
		timeout: cfg.QueryTimeout,
	}, nil
}

func (c *Client) DB() *sql.DB {
	return c.db.DB
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey{}, tx), nil
}

func (c *Client) CommitTx(ctx context.Context) error {
	tx := c.getTx(ctx)
	if tx == nil {
		return ErrTxNotFound
	}
	return tx.Commit()
}

func (c *Client) RollbackTx(ctx context.Context) error {
	tx := c.getTx(ctx)
	if tx == nil {
		return ErrTxNotFound
	}
	return tx.Rollback()
}

// InTx runs fn inside a transaction, committing on success and rolling back
// when fn or the commit fails.
func (c *Client) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := c.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		if rbErr := c.RollbackTx(txCtx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := c.CommitTx(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *Client) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (c *Client) QueryRow(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var row *sqlx.Row
	if tx := c.getTx(ctx); tx != nil {
		row = tx.QueryRowxContext(ctx, q, args...)
	} else {
		row = c.db.QueryRowxContext(ctx, q, args...)
	}

	outType := reflect.TypeOf(dest)
	if outType.Kind() == reflect.Ptr {
		outType = outType.Elem()
	}

	var scanErr error
	if outType.Kind() == reflect.Struct {
		scanErr = row.StructScan(dest)
	} else {
		scanErr = row.Scan(dest)
	}

	if errors.Is(scanErr, sql.ErrNoRows) {
		return ErrNoRows
	}
	if scanErr != nil {
		return fmt.Errorf("unable to scan row: %w", scanErr)
	}
	return nil
}

func (c *Client) Select(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if tx := c.getTx(ctx); tx != nil {
		err = tx.SelectContext(ctx, dest, q, args...)
	} else {
		err = c.db.SelectContext(ctx, dest, q, args...)
	}
	if err != nil {
		return fmt.Errorf("unable to execute select query: %w", err)
	}
	return nil
}

// InsertReturning executes an insert with a RETURNING clause and scans the
// returned row into dest.
func (c *Client) InsertReturning(ctx context.Context, dest any, query *goqu.InsertDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var row *sqlx.Row
	if tx := c.getTx(ctx); tx != nil {
		row = tx.QueryRowxContext(ctx, q, args...)
	} else {
		row = c.db.QueryRowxContext(ctx, q, args...)
	}

	if err := row.StructScan(dest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("insert succeeded but returned no row")
		}
		return fmt.Errorf("failed to scan inserted row: %w", err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, query *goqu.UpdateDataset) (sql.Result, error) {
	res, err := c.exec(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unable to execute update query: %w", err)
	}
	return res, nil
}

func (c *Client) Delete(ctx context.Context, query *goqu.DeleteDataset) (sql.Result, error) {
	res, err := c.exec(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unable to execute delete query: %w", err)
	}
	return res, nil
}

func (c *Client) exec(ctx context.Context, query sqlBuilder) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if tx := c.getTx(ctx); tx != nil {
		return tx.ExecContext(ctx, q, args...)
	}
	return c.db.ExecContext(ctx, q, args...)
}
