package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Ensure the adapter satisfies the bus interface
var _ MessageBus = (*jetStreamBus)(nil)

// jetStreamBus adapts a JetStream context to the MessageBus interface.
type jetStreamBus struct {
	js jetstream.JetStream
}

// newJetStreamBus wraps a NATS connection in a MessageBus.
func newJetStreamBus(nc *nats.Conn) (MessageBus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &jetStreamBus{js: js}, nil
}

func (b *jetStreamBus) StreamForSubject(ctx context.Context, subject string) (string, error) {
	name, err := b.js.StreamNameBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return "", ErrNoStream
		}
		return "", fmt.Errorf("failed to resolve stream for subject %s: %w", subject, err)
	}
	return name, nil
}

func (b *jetStreamBus) Consumer(ctx context.Context, stream string, spec ConsumerSpec) (Consumer, error) {
	st, err := b.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}

	cons, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s on stream %s: %w", spec.Durable, stream, err)
	}

	return &jetStreamConsumer{cons: cons}, nil
}

func (b *jetStreamBus) KeyValue(ctx context.Context, bucket string) (KeyValue, error) {
	kv, err := b.js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = b.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", bucket, err)
	}
	return &jetStreamKV{kv: kv}, nil
}

func (b *jetStreamBus) Publish(ctx context.Context, subject, id string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, id)

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// jetStreamConsumer adapts jetstream.Consumer.
type jetStreamConsumer struct {
	cons jetstream.Consumer
}

func (c *jetStreamConsumer) Pending() uint64 {
	return c.cons.CachedInfo().NumPending
}

func (c *jetStreamConsumer) Messages() (MessageIter, error) {
	iter, err := c.cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to open message iterator: %w", err)
	}
	return &jetStreamIter{iter: iter}, nil
}

// jetStreamIter adapts jetstream.MessagesContext.
type jetStreamIter struct {
	iter jetstream.MessagesContext
}

func (i *jetStreamIter) Next() (Msg, error) {
	m, err := i.iter.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrIterClosed
		}
		return nil, err
	}
	return &jetStreamMsg{msg: m}, nil
}

func (i *jetStreamIter) Stop() error {
	i.iter.Stop()
	return nil
}

// jetStreamMsg adapts jetstream.Msg.
type jetStreamMsg struct {
	msg jetstream.Msg
}

func (m *jetStreamMsg) Subject() string {
	return m.msg.Subject()
}

func (m *jetStreamMsg) Data() []byte {
	return m.msg.Data()
}

func (m *jetStreamMsg) Header(name string) string {
	return m.msg.Headers().Get(name)
}

func (m *jetStreamMsg) Pending() uint64 {
	meta, err := m.msg.Metadata()
	if err != nil {
		return 0
	}
	return meta.NumPending
}

func (m *jetStreamMsg) Ack() error {
	return m.msg.Ack()
}

// jetStreamKV adapts jetstream.KeyValue.
type jetStreamKV struct {
	kv jetstream.KeyValue
}

func (k *jetStreamKV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (k *jetStreamKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := k.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}
