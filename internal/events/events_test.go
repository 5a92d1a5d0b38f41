package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), ConversationEvent{SessionID: "s"}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "events"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
}

func TestEventJSON(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := json.Marshal(ConversationEvent{SessionID: "s1", UserMessage: "hi", Answer: "hello", Turns: 1, At: at})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"session_id":"s1","user_message":"hi","answer":"hello","provider":"","turns":1,"tool_calls":0,"at":"2025-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Errorf("got %s", data)
	}
}

func TestKafkaPublisherRoundTrip(t *testing.T) {
	if testing.Short() || os.Getenv("TOOLBOT_DOCKER_TESTS") == "" {
		t.Skip("set TOOLBOT_DOCKER_TESTS=1 to run container tests")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.2.4",
		ExposedPorts: []string{"9092:9092/tcp"},
		Cmd: []string{
			"redpanda", "start", "--mode", "dev-container", "--smp", "1",
			"--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "localhost:9092",
		},
		WaitingFor: wait.ForLog("Successfully started Redpanda!").WithStartupTimeout(2 * time.Minute),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start redpanda: %v", err)
	}
	defer c.Terminate(ctx)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	broker := fmt.Sprintf("%s:9092", host)

	pub, err := NewKafkaPublisher([]string{broker}, "conversations")
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	if err := pub.Publish(ctx, ConversationEvent{SessionID: "s1", Answer: "14:02"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("conversations"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		t.Fatalf("poll: %v", errs)
	}
	var got ConversationEvent
	records := fetches.Records()
	if len(records) == 0 {
		t.Fatal("no records")
	}
	if err := json.Unmarshal(records[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || got.Answer != "14:02" || string(records[0].Key) != "s1" {
		t.Errorf("record = %+v key=%s", got, records[0].Key)
	}
}
