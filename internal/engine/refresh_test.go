package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type refreshCounter struct {
	n   atomic.Int32
	err error
}

func (r *refreshCounter) RefreshAll() error {
	r.n.Add(1)
	return r.err
}

func TestRefresh_TicksUntilCancelled(t *testing.T) {
	r := &refreshCounter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Refresh(ctx, r, 5*time.Millisecond, nil) }()

	assert.Eventually(t, func() bool { return r.n.Load() >= 3 }, waitTimeout, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRefresh_ReportsErrorsAndContinues(t *testing.T) {
	r := &refreshCounter{err: errors.New("compile failed")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reported atomic.Int32
	go func() {
		_ = Refresh(ctx, r, 5*time.Millisecond, func(error) { reported.Add(1) })
	}()

	assert.Eventually(t, func() bool { return reported.Load() >= 2 }, waitTimeout, time.Millisecond)
}

func TestRefresh_StopsWhenManagerStops(t *testing.T) {
	r := &refreshCounter{err: ErrManagerStopped}
	err := Refresh(context.Background(), r, time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.Equal(t, int32(1), r.n.Load())
}

func TestRefresh_RejectsBadInterval(t *testing.T) {
	assert.Error(t, Refresh(context.Background(), &refreshCounter{}, 0, nil))
}

func TestRefresh_Coordinator(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	c := &countClient{}
	_, err := co.RegisterClient(c)
	assert.NoError(t, err)
	drain(t, co)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Refresh(ctx, co, 5*time.Millisecond, nil) }()

	assert.Eventually(t, func() bool { return fake.CallCount() >= 3 }, waitTimeout, time.Millisecond,
		"each refresh clears the cache and re-runs the query")
}
