package broker

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when an operation requires an open
	// broker connection and none exists.
	ErrNotConnected = errors.New("connection not established")

	// ErrNoStream is returned when no stream is bound to a subject.
	ErrNoStream = errors.New("no stream bound for subject")

	// ErrKeyNotFound is returned by KeyValue.Get for an absent key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrIterClosed is returned by MessageIter.Next after Stop.
	ErrIterClosed = errors.New("message iterator closed")
)

// MsgIDHeader is the broker header carrying the deduplication ID.
const MsgIDHeader = "Nats-Msg-Id"

// Msg is a single message pulled off a subject stream.
type Msg interface {
	// Subject returns the subject the message arrived on.
	Subject() string

	// Data returns the raw payload.
	Data() []byte

	// Header returns the value of a message header, or "" if absent.
	Header(name string) string

	// Pending reports how many messages remain on the stream after
	// this one for the consumer that delivered it.
	Pending() uint64

	// Ack acknowledges the message.
	Ack() error
}

// MessageIter pulls messages for one consumer. Next blocks until a
// message arrives or the iterator is stopped.
type MessageIter interface {
	Next() (Msg, error)
	Stop() error
}

// Consumer is a durable cursor over one subject's history plus live tail.
type Consumer interface {
	// Pending reports the number of backlog messages at creation time.
	Pending() uint64

	// Messages returns a pull iterator over the consumer's feed.
	Messages() (MessageIter, error)
}

// ConsumerSpec describes the durable consumer to create or reuse.
type ConsumerSpec struct {
	Durable       string
	FilterSubject string
}

// KeyValue is a durable key-value bucket.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// MessageBus is the slice of the broker the notification core consumes:
// stream resolution, durable consumers, KV buckets and publishing.
type MessageBus interface {
	// StreamForSubject resolves the stream backing a subject and
	// returns ErrNoStream when no stream is bound to it.
	StreamForSubject(ctx context.Context, subject string) (string, error)

	// Consumer creates (or reuses) a durable consumer on a stream,
	// positioned at the start of history and filtered to one subject.
	Consumer(ctx context.Context, stream string, spec ConsumerSpec) (Consumer, error)

	// KeyValue opens a KV bucket, creating it when absent.
	KeyValue(ctx context.Context, bucket string) (KeyValue, error)

	// Publish writes a message with a dedup ID header to a subject.
	Publish(ctx context.Context, subject, id string, data []byte) error
}
