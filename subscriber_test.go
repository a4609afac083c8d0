package smax

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSubscriber builds a Subscriber with its bookkeeping maps
// initialized but no live Redis connection, exercising the wait/dispatch
// logic in isolation from the PSubscribe loop.
func newTestSubscriber() *Subscriber {
	return &Subscriber{
		refs:    make(map[string]int),
		waiters: make(map[int]*waiter),
	}
}

func TestWaitOnSubscribedVarMatches(t *testing.T) {
	s := newTestSubscriber()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.WaitOnSubscribedVar(ctx, "weather", "temperature")
	}()

	time.Sleep(10 * time.Millisecond)
	s.dispatch("other:key", "ignored")
	s.dispatch("weather:temperature", "21.5")

	require.NoError(t, <-done)
}

func TestWaitOnAnyNotificationTimesOut(t *testing.T) {
	s := newTestSubscriber()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.WaitOnAnyNotification(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReleaseWaitsUnblocksWithoutError(t *testing.T) {
	s := newTestSubscriber()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct {
		id  string
		err error
	}, 1)
	go func() {
		id, err := s.WaitOnAnyNotification(ctx)
		done <- struct {
			id  string
			err error
		}{id, err}
	}()

	time.Sleep(10 * time.Millisecond)
	s.ReleaseWaits()

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, "", result.id)
}

func TestWaitOnSubscribedGroupMatchesPrefix(t *testing.T) {
	s := newTestSubscriber()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		id, _ := s.WaitOnSubscribedGroup(ctx, "weather")
		done <- id
	}()

	time.Sleep(10 * time.Millisecond)
	s.dispatch("unrelated", "x")
	s.dispatch("weather:temperature", "y")

	assert.Equal(t, "weather:temperature", <-done)
}

func TestSubscribeRefcounting(t *testing.T) {
	s := newTestSubscriber()
	s.Subscribe("a:b")
	s.Subscribe("a:b")
	assert.Equal(t, 2, s.refs["a:b"])
	s.Unsubscribe("a:b")
	assert.Equal(t, 1, s.refs["a:b"])
	s.Unsubscribe("a:b")
	s.Unsubscribe("a:b")
	assert.Equal(t, 0, s.refs["a:b"])
}
