package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recv(t *testing.T, ch <-chan SessionEvent) SessionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return SessionEvent{}
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)

	b.Publish(EventSignedIn, "acc-1")

	for _, ch := range []<-chan SessionEvent{a, c} {
		ev := recv(t, ch)
		assert.Equal(t, EventSignedIn, ev.Type)
		assert.Equal(t, "acc-1", ev.AccountID)
		assert.False(t, ev.At.IsZero())
	}
}

func TestBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroker(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.Subscribers())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, b.Subscribers())

	// publishing after unsubscribe must not panic
	b.Publish(EventSignedOut, "acc-1")
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for range eventBufferSize * 3 {
			b.Publish(EventTokenRefreshed, "acc-1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
