package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noopJob(context.Context) error { return nil }

func TestRunServices_BadScheduleStartsNothing(t *testing.T) {
	var started atomic.Int32
	service := func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return nil
	}

	jobs := []cronJob{{name: "reconcile", spec: "every minute", timeout: time.Second, run: noopJob}}
	err := runServices(context.Background(), zap.NewNop(), jobs, service, service)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule reconcile")
	assert.Zero(t, started.Load())
}

func TestRunServices_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	service := func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return nil
	}

	done := make(chan error, 1)
	jobs := []cronJob{{name: "reconcile", spec: "@every 1h", timeout: time.Second, run: noopJob}}
	go func() { done <- runServices(ctx, zap.NewNop(), jobs, service, service) }()

	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("services did not stop")
	}
}

func TestRunServices_FailureStopsTheRest(t *testing.T) {
	boom := errors.New("listen: address in use")
	waiting := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	failing := func(context.Context) error { return boom }

	err := runServices(context.Background(), zap.NewNop(), nil, waiting, failing)
	assert.ErrorIs(t, err, boom)
}
