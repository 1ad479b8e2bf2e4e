// Package redis constructs the go-redis client the reference database
// applier (internal/migrate/dbapplier) and CLI (cmd/migrate) share, and
// re-exports the sentinel errors the retry policy classifies on
// (spec §10.1).
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	r "github.com/redis/go-redis/v9"
)

const (
	// Nil is go-redis's "key does not exist" sentinel. The retry policy
	// never treats it as retriable.
	Nil = r.Nil
	// TxFailedErr is go-redis's optimistic-lock (WATCH/MULTI/EXEC)
	// failure, the concrete write-conflict error the retry policy
	// classifies as retriable.
	TxFailedErr = r.TxFailedErr
)

type (
	Cmdable            = r.Cmdable
	MapStringStringCmd = r.MapStringStringCmd
	Pipeliner          = r.Pipeliner
	Tx                 = r.Tx
)

// Client is the subset of *redis.Client the applier depends on,
// including Watch for the optimistic-lock transforms the database
// applier runs under write-conflict retry.
type Client interface {
	Cmdable
	Watch(ctx context.Context, fn func(*r.Tx) error, keys ...string) error
	Close() error
}

// NewClient dials Redis and instruments the connection for tracing. Each
// caller gets its own connection; there is no process-wide singleton
// since the CLI is a short-lived, single-invocation process.
func NewClient(ctx context.Context, config *Config) (Client, error) {
	options := &r.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Username: config.Username,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.TLSEnabled {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := r.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("redis tracing instrumentation failed: %w", err)
	}
	return client, nil
}
