package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// TaskMessage is the body of a deferred task published to the tasks topic.
type TaskMessage struct {
	Task    string            `json:"task"`
	UserID  int64             `json:"userId"`
	RunAt   time.Time         `json:"runAt"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Due reports whether the task may run at now.
func (m TaskMessage) Due(now time.Time) bool {
	return !m.RunAt.After(now)
}

// Publisher is the subset of *pubsub.Topic the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubScheduler queues deferred tasks on a Pub/Sub topic. Pub/Sub has no delayed delivery,
// so the push endpoint nacks messages whose runAt lies in the future and the subscription's
// retry policy redelivers them. A reschedule publishes a new message; consumers drop
// superseded ones by comparing against current state.
type PubSubScheduler struct {
	topic Publisher
	now   func() time.Time
}

// NewPubSubScheduler wires the scheduler to a topic. Messages for one user share an ordering key.
func NewPubSubScheduler(topic Publisher, now func() time.Time) (*PubSubScheduler, error) {
	if topic == nil {
		return nil, errors.New("pubsub scheduler: topic is required")
	}
	if t, ok := topic.(*pubsub.Topic); ok {
		t.EnableMessageOrdering = true
	}
	if now == nil {
		now = time.Now
	}
	return &PubSubScheduler{topic: topic, now: now}, nil
}

// RescheduleOrQueue publishes task for userID to run at runAt.
func (s *PubSubScheduler) RescheduleOrQueue(ctx context.Context, task string, userID int64, payload map[string]string, runAt time.Time) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return errors.New("pubsub scheduler: task name is required")
	}
	msg := TaskMessage{Task: task, UserID: userID, RunAt: runAt.UTC(), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pubsub scheduler: marshal %s: %w", task, err)
	}

	user := strconv.FormatInt(userID, 10)
	orderingKey := task + ":" + user
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
		Attributes: map[string]string{
			"task":     task,
			"userId":   user,
			"runAt":    msg.RunAt.Format(time.RFC3339Nano),
			"queuedAt": s.now().UTC().Format(time.RFC3339Nano),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		if t, ok := s.topic.(*pubsub.Topic); ok {
			t.ResumePublish(orderingKey)
		}
		return fmt.Errorf("pubsub scheduler: publish %s for user %d: %w", task, userID, err)
	}
	return nil
}

type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePush parses a Pub/Sub push delivery into a TaskMessage.
func DecodePush(r *http.Request) (TaskMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return TaskMessage{}, fmt.Errorf("jobs: read push body: %w", err)
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return TaskMessage{}, fmt.Errorf("jobs: decode push envelope: %w", err)
	}
	if len(envelope.Message.Data) == 0 {
		return TaskMessage{}, errors.New("jobs: push message has no data")
	}
	var msg TaskMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
		return TaskMessage{}, fmt.Errorf("jobs: decode task %s: %w", envelope.Message.MessageID, err)
	}
	if msg.Task == "" || msg.UserID == 0 {
		return TaskMessage{}, fmt.Errorf("jobs: task %s is incomplete", envelope.Message.MessageID)
	}
	return msg, nil
}
