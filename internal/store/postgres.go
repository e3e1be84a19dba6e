// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package store provides database bootstrap and schema management.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection bootstrap retry policy. The database may still be coming
// up when the service starts; pings are retried with fibonacci backoff
// until connectTimeout elapses.
const (
	connectBackoff = 250 * time.Millisecond
	connectTimeout = 15 * time.Second
)

// Connect creates a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxDuration(connectTimeout, retry.NewFibonacci(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Debug("database not ready, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			Wrap(err)
	}

	return pool, nil
}
