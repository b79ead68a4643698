// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

func TestOpenPool_InvalidURL(t *testing.T) {
	_, err := OpenPool(context.Background(), "postgres://%zz", PoolConfig{})
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}

func TestApplyPoolConfig(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/accountd")
	require.NoError(t, err)
	defaults := *poolCfg

	applyPoolConfig(poolCfg, PoolConfig{})
	assert.Equal(t, defaults.MaxConns, poolCfg.MaxConns)
	assert.Equal(t, defaults.MaxConnLifetime, poolCfg.MaxConnLifetime)

	applyPoolConfig(poolCfg, PoolConfig{
		MaxConns:        12,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  3 * time.Second,
	})
	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(2), poolCfg.MinConns)
	assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
	assert.Equal(t, 3*time.Second, poolCfg.ConnConfig.ConnectTimeout)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	check := PingCheck(pingFunc(func(context.Context) error { return nil }))
	require.NoError(t, check(context.Background()))

	check = PingCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	errutil.AssertErrorCode(t, check(context.Background()), "DB_UNAVAILABLE")
}
