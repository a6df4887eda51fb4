package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

func newTestBus(t *testing.T) Bus {
	t.Helper()
	b, err := NewBus(config.EventBusConfig{Embedded: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewBus_Embedded(t *testing.T) {
	b := newTestBus(t)
	assert.NotNil(t, b)
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus(t)

	received := make(chan []byte, 1)
	unsub, err := b.Subscribe("memory_log.stored", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	defer unsub()

	err = b.Publish(context.Background(), "memory_log.stored", []byte(`{"memory_log_id":"m-1"}`))
	require.NoError(t, err)

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"memory_log_id":"m-1"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive published event")
	}
}

func TestSubscribe_PanicIsolatedFromOtherSubscribers(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var secondReceived bool

	unsub1, err := b.Subscribe("conversation.stored", func(payload []byte) {
		panic("boom")
	})
	require.NoError(t, err)
	defer unsub1()

	done := make(chan struct{})
	unsub2, err := b.Subscribe("conversation.stored", func(payload []byte) {
		mu.Lock()
		secondReceived = true
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)
	defer unsub2()

	err = b.Publish(context.Background(), "conversation.stored", []byte("payload"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber never ran after first subscriber panicked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, secondReceived)
}

func TestSubscribe_FIFOWithinTopic(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	unsub, err := b.Subscribe("mental_note.stored", func(payload []byte) {
		mu.Lock()
		order = append(order, len(payload))
		if len(order) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	for _, p := range []string{"a", "bb", "ccc"} {
		require.NoError(t, b.Publish(context.Background(), "mental_note.stored", []byte(p)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive all published events")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBus(t)

	received := make(chan []byte, 1)
	unsub, err := b.Subscribe("memory_log.stored", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	require.NoError(t, unsub())

	require.NoError(t, b.Publish(context.Background(), "memory_log.stored", []byte("x")))

	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}
