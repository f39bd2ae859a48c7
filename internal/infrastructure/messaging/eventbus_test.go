package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_SubscribeAndPublish(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var received []shared.Event
	err := bus.Subscribe(shared.EventUnitCompleted, func(event shared.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	event := shared.NewUnitCompletedEvent("wallet-1", "course-1", 2, "rcpt-1", "0xabc", 60)
	require.NoError(t, bus.Publish(event))

	require.Len(t, received, 1)
	assert.Equal(t, shared.EventUnitCompleted, received[0].EventType())
	assert.Equal(t, "wallet-1/course-1", received[0].AggregateID())
}

func TestInMemoryEventBus_TypeFiltering(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var completions int
	require.NoError(t, bus.Subscribe(shared.EventUnitCompleted, func(shared.Event) error {
		completions++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewTransportErrorEvent("w", "c", "GetProgress", "conn reset")))
	require.NoError(t, bus.Publish(shared.NewUnitCompletedEvent("w", "c", 0, "r", "0x1", 33)))

	assert.Equal(t, 1, completions)
}

func TestInMemoryEventBus_SubscribeAll(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var all []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(event shared.Event) error {
		all = append(all, event.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSessionStateChangedEvent("w", "c", "loading", "ready")))
	require.NoError(t, bus.Publish(shared.NewLicensePurchasedEvent("w", "c", "0xfeed")))

	assert.Equal(t, []shared.EventType{shared.EventSessionStateChanged, shared.EventLicensePurchase}, all)
}

func TestInMemoryEventBus_AsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var (
		mu    sync.Mutex
		count int
	)
	require.NoError(t, bus.Subscribe(shared.EventUnitCompleted, func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewUnitCompletedEvent("w", "c", i, "r", "0x1", 20)))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestInMemoryEventBus_ClosedBusRejectsOperations(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewLicensePurchasedEvent("w", "c", "0x1"))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventLicensePurchase, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestInMemoryEventBus_Metrics(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventUnitCompleted, func(shared.Event) error { return nil }))
	require.NoError(t, bus.Publish(shared.NewUnitCompletedEvent("w", "c", 0, "r", "0x1", 50)))
	require.NoError(t, bus.Publish(shared.NewUnitCompletedEvent("w", "c", 1, "r", "0x2", 100)))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, int64(0), snap.HandlerFailures)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// fakeRedisClient is an in-process RedisClient with a shared message channel,
// good enough to exercise the envelope and self-filtering logic.
type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{incoming: make(chan RedisMessage, 16)}
}

func (f *fakeRedisClient) Publish(_ context.Context, _ string, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message.(string))
	return nil
}

func (f *fakeRedisClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.incoming, nil
}

func (f *fakeRedisClient) Close() error { return nil }

func (f *fakeRedisClient) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeRedisClient) lastPublished() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func newTestRedisBus(t *testing.T, client *fakeRedisClient, instanceID string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		ChannelName:    "entitlement:events",
		InstanceID:     instanceID,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_PublishFansOutToRedisAndLocal(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client, "node-a")

	var local int
	require.NoError(t, bus.Subscribe(shared.EventLicensePurchase, func(shared.Event) error {
		local++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLicensePurchasedEvent("wallet-1", "course-1", "0xfeed")))

	assert.Equal(t, 1, local)
	require.Equal(t, 1, client.publishedCount())
	assert.Contains(t, client.lastPublished(), `"instance_id":"node-a"`)
	assert.Contains(t, client.lastPublished(), `"event_type":"license.purchased"`)
}

func TestRedisEventBus_RemoteEventIsDelivered(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client, "node-a")

	got := make(chan shared.Event, 1)
	require.NoError(t, bus.Subscribe(shared.EventLicensePurchase, func(event shared.Event) error {
		got <- event
		return nil
	}))

	client.incoming <- RedisMessage{
		Channel: "entitlement:events",
		Payload: `{
			"instance_id": "node-b",
			"event_type": "license.purchased",
			"aggregate_id": "wallet-1/course-1",
			"occurred_at": "2026-08-23T10:00:00Z",
			"payload": {"principal": "wallet-1", "course_id": "course-1", "tx_hash": "0xfeed"}
		}`,
	}

	select {
	case event := <-got:
		remote, ok := event.(RemoteEvent)
		require.True(t, ok)
		assert.Equal(t, "wallet-1/course-1", remote.AggregateID())
		assert.Equal(t, "wallet-1", remote.PayloadString("principal"))
		assert.Equal(t, "0xfeed", remote.PayloadString("tx_hash"))
	case <-time.After(time.Second):
		t.Fatal("remote event was not delivered")
	}
}

func TestRedisEventBus_FiltersOwnEvents(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client, "node-a")

	var count int
	var mu sync.Mutex
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	// An echo of our own publish must not be delivered a second time.
	client.incoming <- RedisMessage{
		Channel: "entitlement:events",
		Payload: `{"instance_id": "node-a", "event_type": "license.purchased", "aggregate_id": "w/c", "payload": {}}`,
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestRedisEventBus_MalformedMessageIsSkipped(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client, "node-a")

	var count int
	var mu sync.Mutex
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	client.incoming <- RedisMessage{Channel: "entitlement:events", Payload: `{not json`}
	client.incoming <- RedisMessage{
		Channel: "entitlement:events",
		Payload: `{"instance_id": "node-b", "event_type": "license.purchased", "aggregate_id": "w/c", "payload": {}}`,
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)
}
