package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/provisioner/pkg/channels/gochannel"
	"github.com/dukex/provisioner/pkg/eventbus"
	"github.com/dukex/provisioner/pkg/events"
	"github.com/dukex/provisioner/pkg/models"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	received := make(chan *events.InstanceStatusChanged, 1)

	require.NoError(t, bus.Handle(events.InstanceStatusChangedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.InstanceStatusChanged)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Subscribe(ctx))

	event := events.InstanceStatusChanged{
		BaseEvent:    events.NewBaseEvent(events.InstanceStatusChangedEvent, "purchase-1"),
		InstanceID:   "instance-1",
		AutomationID: "fakturering",
		From:         models.InstanceStatusCreating,
		To:           models.InstanceStatusActive,
		ExternalID:   "wf-1",
	}
	require.NoError(t, bus.Publish(ctx, "purchase-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "purchase-1", got.PurchaseID)
		assert.Equal(t, models.InstanceStatusActive, got.To)
		assert.Equal(t, "wf-1", got.ExternalID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	received := make(chan *events.JobCompleted, 1)

	require.NoError(t, bus.Handle(events.JobCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.JobCompleted)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "p", events.JobDeadLettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadLetteredEvent, "p"),
		JobID:     "job-0",
	}))
	require.NoError(t, bus.Publish(ctx, "p", events.JobCompleted{
		BaseEvent: events.NewBaseEvent(events.JobCompletedEvent, "p"),
		JobID:     "job-1",
		Action:    models.JobActionCreate,
	}))

	select {
	case got := <-received:
		assert.Equal(t, "job-1", got.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	var publisher eventbus.EventPublisher = eventbus.Discard{}
	assert.NoError(t, publisher.Publish(context.Background(), "k", events.JobCompleted{}))
}
