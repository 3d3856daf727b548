package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// logSink writes events through the process logger, one line per event at
// info level (warn level for a failed run or task, or a DLQ threshold alert).
type logSink struct {
	log *logrus.Logger
}

// NewLogSink creates a sink that writes events through log.
func NewLogSink(log *logrus.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Notify(ctx context.Context, event Event) error {
	entry := s.log.WithFields(logrus.Fields{
		"event":    event.Type,
		"pipeline": event.PipelineName,
		"run_id":   event.RunID,
	})
	if event.TaskID != "" {
		entry = entry.WithField("task_id", event.TaskID)
	}
	switch event.Type {
	case EventRunFailed, EventTaskFailed, EventDLQThresholdReached:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// webhookSink delivers an event as a JSON POST body to a fixed URL.
type webhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink that POSTs events to url.
func NewWebhookSink(url string) Sink {
	return &webhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *webhookSink) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook sink: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook sink: request to %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: %s responded %s", s.url, resp.Status)
	}
	return nil
}

// redisSink publishes events as JSON to a Redis pub/sub channel, grounded
// on the same publish pattern the state package's RedisPublisher uses.
type redisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink that publishes to channel via client.
func NewRedisSink(client *redis.Client, channel string) Sink {
	return &redisSink{client: client, channel: channel}
}

func (s *redisSink) Notify(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis sink: marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis sink: publish to %s: %w", s.channel, err)
	}
	return nil
}

// natsSink publishes events to a JetStream subject.
type natsSink struct {
	js      nats.JetStreamContext
	subject string
}

// NewNATSSink creates a sink that publishes to subject through js.
func NewNATSSink(js nats.JetStreamContext, subject string) Sink {
	return &natsSink{js: js, subject: subject}
}

func (s *natsSink) Notify(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats sink: marshal event: %w", err)
	}
	if _, err := s.js.Publish(s.subject, data); err != nil {
		return fmt.Errorf("nats sink: publish to %s: %w", s.subject, err)
	}
	return nil
}
