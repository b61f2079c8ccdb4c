package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, topic: "sso.auth.events"}

	e, err := New(TypeLoginSucceeded, "user-1", map[string]string{"provider": "local"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	e.RequestID = "req-1"
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "sso.auth.events" || string(msg.Key) != "user-1" {
		t.Fatalf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != TypeLoginSucceeded || headers["request_id"] != "req-1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.UserID != "user-1" || decoded.Source != "portal-sso" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &captureWriter{err: boom}, topic: "t"}
	e, _ := New(TypeLogout, "user-1", nil)
	if err := p.Publish(context.Background(), e); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewPublisherWithoutBrokersIsNoop(t *testing.T) {
	p := NewPublisher(nil, "t", time.Second)
	if _, ok := p.(NoopPublisher); !ok {
		t.Fatalf("expected NoopPublisher, got %T", p)
	}
	if err := p.Publish(context.Background(), &Event{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

// stalledWriter never completes a write on its own, like a broker that drops packets.
type stalledWriter struct{}

func (stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledWriter) Close() error { return nil }

func TestKafkaPublisherBoundsStalledWrite(t *testing.T) {
	p := &KafkaPublisher{writer: stalledWriter{}, topic: "t", timeout: 50 * time.Millisecond}
	e, _ := New(TypeLoginSucceeded, "user-1", nil)

	start := time.Now()
	err := p.Publish(context.Background(), e)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %s", elapsed)
	}
}

func TestNewKafkaPublisherDefaultsTimeout(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:9"}, "t", 0)
	defer p.Close()
	if p.timeout != defaultPublishTimeout {
		t.Fatalf("expected default timeout, got %s", p.timeout)
	}
}
