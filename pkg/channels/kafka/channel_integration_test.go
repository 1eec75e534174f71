package kafka_test

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/dukex/provisioner/pkg/channels/kafka"
	"github.com/dukex/provisioner/pkg/eventbus"
	"github.com/dukex/provisioner/pkg/events"
)

var (
	kafkaContainer *kafkaTc.KafkaContainer
	brokers        []string
	logger         *slog.Logger
)

func TestMain(m *testing.M) {
	flag.Parse()

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	var err error

	kafkaContainer, err = kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	if err != nil {
		panic("Failed to start Kafka container: " + err.Error())
	}

	brokers, err = kafkaContainer.Brokers(ctx)
	if err != nil {
		panic("Failed to get Kafka brokers: " + err.Error())
	}

	err = createTopic(brokers, events.Topic)
	if err != nil {
		panic("Failed to create Kafka topic: " + err.Error())
	}

	code := m.Run()

	if err := kafkaContainer.Terminate(ctx); err != nil {
		panic("Failed to terminate Kafka container: " + err.Error())
	}

	os.Exit(code)
}

func createTopic(brokers []string, topic string) error {
	admin, err := sarama.NewClusterAdmin(brokers, sarama.NewConfig())
	if err != nil {
		return err
	}
	defer admin.Close()

	err = admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false)

	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
		return nil
	}

	return err
}

func newKafkaBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}

	pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "provisioner-test-"+uuid.NewString()[:8], brokers)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		assert.NoError(t, bus.Close())
	})

	return bus
}

func TestWatermillEventBus_KafkaPublishAndSubscribe(t *testing.T) {
	bus := newKafkaBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.CredentialsRejected, 1)

	err := bus.Handle(events.CredentialsRejectedEvent, func(_ context.Context, event any) error {
		if e, ok := event.(*events.CredentialsRejected); ok {
			received <- e
		}

		return nil
	})
	require.NoError(t, err)

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	purchaseID := uuid.NewString()
	sent := events.CredentialsRejected{
		BaseEvent: events.NewBaseEvent(events.CredentialsRejectedEvent, purchaseID),
		TenantID:  "acme",
		Services:  []string{"tripletex", "slack"},
	}

	err = bus.Publish(ctx, purchaseID, sent)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, purchaseID, got.PurchaseID)
		assert.Equal(t, "acme", got.TenantID)
		assert.Equal(t, []string{"tripletex", "slack"}, got.Services)
	case <-time.After(30 * time.Second):
		t.Fatal("Did not receive event within timeout")
	}
}

func TestWatermillEventBus_KafkaMultipleEventTypes(t *testing.T) {
	bus := newKafkaBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	purchaseID := uuid.NewString()
	receivedTypes := make(chan events.EventType, 2)

	handler := func(_ context.Context, event any) error {
		e, ok := event.(eventbus.Event)
		if ok && matchesPurchase(event, purchaseID) {
			receivedTypes <- e.GetType()
		}

		return nil
	}

	require.NoError(t, bus.Handle(events.JobDeadLetteredEvent, handler))
	require.NoError(t, bus.Handle(events.OnboardingStepChangedEvent, handler))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, purchaseID, events.JobDeadLettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadLetteredEvent, purchaseID),
		JobID:     uuid.NewString(),
		Attempts:  5,
		LastError: "credentials not ready",
	}))
	require.NoError(t, bus.Publish(ctx, purchaseID, events.OnboardingStepChanged{
		BaseEvent: events.NewBaseEvent(events.OnboardingStepChangedEvent, purchaseID),
	}))

	seen := make(map[events.EventType]bool)

	for range 2 {
		select {
		case eventType := <-receivedTypes:
			seen[eventType] = true
		case <-time.After(30 * time.Second):
			t.Fatal("Did not receive all events within timeout")
		}
	}

	assert.True(t, seen[events.JobDeadLetteredEvent])
	assert.True(t, seen[events.OnboardingStepChangedEvent])
}

func matchesPurchase(event any, purchaseID string) bool {
	switch e := event.(type) {
	case *events.JobDeadLettered:
		return e.PurchaseID == purchaseID
	case *events.OnboardingStepChanged:
		return e.PurchaseID == purchaseID
	default:
		return false
	}
}
