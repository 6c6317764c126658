package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubSubSchedulerPublishesTask(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "cart-tasks")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	queuedAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	scheduler, err := NewPubSubScheduler(topic, func() time.Time { return queuedAt })
	if err != nil {
		t.Fatalf("NewPubSubScheduler: %v", err)
	}

	runAt := queuedAt.Add(30 * time.Minute)
	payload := map[string]string{"userId": "7", "expiresAt": runAt.Format(time.RFC3339Nano)}
	if err := scheduler.RescheduleOrQueue(ctx, "cart.expire", 7, payload, runAt); err != nil {
		t.Fatalf("RescheduleOrQueue: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Attributes["task"] != "cart.expire" || msg.Attributes["userId"] != "7" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if msg.OrderingKey != "cart.expire:7" {
		t.Fatalf("unexpected ordering key %q", msg.OrderingKey)
	}
	var task TaskMessage
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if !task.RunAt.Equal(runAt) || task.Payload["expiresAt"] == "" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Due(queuedAt) || !task.Due(runAt) {
		t.Fatalf("unexpected due computation for %s", task.RunAt)
	}
}

func TestDecodePush(t *testing.T) {
	data, _ := json.Marshal(TaskMessage{Task: "cart.expire", UserID: 7, RunAt: time.Unix(100, 0).UTC()})
	body, _ := json.Marshal(map[string]any{
		"message":      map[string]any{"data": data, "messageId": "m1"},
		"subscription": "projects/p/subscriptions/cart-tasks-push",
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/cart-expire", bytes.NewReader(body))
	msg, err := DecodePush(req)
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if msg.UserID != 7 || msg.Task != "cart.expire" {
		t.Fatalf("unexpected message %+v", msg)
	}

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"message":{}}`)))
	if _, err := DecodePush(req); err == nil {
		t.Fatalf("expected empty message to be rejected")
	}
}

func TestNewPubSubSchedulerRequiresTopic(t *testing.T) {
	if _, err := NewPubSubScheduler(nil, nil); err == nil {
		t.Fatalf("expected error without topic")
	}
}
