package poller

import (
	"context"
	"errors"
	"time"
)

// Attachment is a durable reference to a re-uploaded file.
type Attachment struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Message is one normalized inbox message, ready for delivery. The poller
// never mutates a Message after handing it to a sink.
type Message struct {
	ID          int64        `json:"id"`
	Date        time.Time    `json:"date"`
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CycleResult aggregates one fetch cycle: messages in newest-first order
// plus the highest update id examined during the cycle.
type CycleResult struct {
	Messages []Message
	Offset   int64
}

// Sink receives the result of each successful fetch cycle. Messages are
// ordered newest-first and are meant to be prepended as one block ahead
// of whatever the consumer has accumulated.
type Sink interface {
	Deliver(ctx context.Context, res CycleResult) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, res CycleResult) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, res CycleResult) error {
	return f(ctx, res)
}

type multiSink []Sink

// MultiSink fans one cycle result out to every sink. All sinks are
// attempted; their errors are joined.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

// Deliver implements Sink.
func (m multiSink) Deliver(ctx context.Context, res CycleResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
