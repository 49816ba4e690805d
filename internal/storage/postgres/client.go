package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/pkg/logger"
)

// Pool is the subset of pgxpool.Pool used here; pgxmock satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store reads sales data, searches the pgvector corpora and records inquiries.
type Store struct {
	pool         Pool
	closeFn      func()
	queryTimeout time.Duration
}

type Options struct {
	URL          string
	MaxConns     int32
	MinConns     int32
	QueryTimeout time.Duration
}

func New(ctx context.Context, opts Options) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if opts.MaxConns > 0 {
		pgxCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pgxCfg.MinConns = opts.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap(err, "postgres: ping")
	}

	logger.Info("Postgres store initialized",
		zap.Int32("max_conns", pgxCfg.MaxConns),
		zap.Int32("min_conns", pgxCfg.MinConns),
	)

	return NewWithPool(pool, pool.Close, opts.QueryTimeout), nil
}

// NewWithPool wraps an existing pool. closeFn may be nil.
func NewWithPool(pool Pool, closeFn func(), queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Store{pool: pool, closeFn: closeFn, queryTimeout: queryTimeout}
}

func (s *Store) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// wrap annotates err and tags connection-level failures with
// storage.ErrStoreUnavailable.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		err = fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	return eris.Wrap(err, msg)
}

// IsPermanent reports startup failures that retrying cannot fix: a malformed
// URL, rejected credentials or a missing database.
func IsPermanent(err error) bool {
	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000"
	}
	return false
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
