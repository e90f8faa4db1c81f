// Package events publishes ingested inbox messages to NATS JetStream
// for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/inboxforge/telegram-inbox/internal/poller"
)

const streamName = "INBOX_EVENTS"

// Publisher wraps NATS JetStream. It implements poller.Sink: every
// normalized message becomes one event, deduplicated by chat and
// message id.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and acquires a JetStream context.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream ensures the inbox event stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	streamInfo, err := p.js.StreamInfo(streamName)
	if err == nil && streamInfo != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"inbox.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Deliver implements poller.Sink.
func (p *Publisher) Deliver(ctx context.Context, res poller.CycleResult) error {
	for _, m := range res.Messages {
		event := map[string]any{
			"event_id":    uuid.NewString(),
			"ts":          time.Now().Unix(),
			"msg_date":    m.Date.Unix(),
			"chat_id":     m.ChatID,
			"message_id":  m.ID,
			"text":        m.Text,
			"attachments": m.Attachments,
			"offset":      res.Offset,
		}

		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}

		msgID := fmt.Sprintf("tg|%d|%d", m.ChatID, m.ID)
		subject := fmt.Sprintf("inbox.telegram.%d.message", m.ChatID)

		if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID)); err != nil {
			return fmt.Errorf("publish message %s: %w", msgID, err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
