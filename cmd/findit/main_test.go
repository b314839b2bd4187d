package main

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findit/internal/infra/obs"
)

func TestRunReportsListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	t.Setenv("APP_ENV", "test")
	t.Setenv("HTTP_ADDR", busy.Addr().String())
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CHAT_STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LISTING_FIXTURES", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Equal(t, 1, run(ctx))
}

func TestApplicationCloseRunsEveryCloser(t *testing.T) {
	var order []string
	app := &application{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, "mongo"); return nil },
		func(context.Context) error { order = append(order, "redis"); return errors.New("already closed") },
		func(context.Context) error { order = append(order, "kafka"); return nil },
	}}

	app.close(obs.Discard())

	assert.Equal(t, []string{"kafka", "redis", "mongo"}, order)
}
