package broker

import (
	"context"
	"sync"
)

// In-memory MessageBus used by tests across packages, mirroring the
// semantics of the JetStream adapter closely enough to exercise drain,
// read-state and teardown behavior without a broker.

// FakeMsg is a canned message for a FakeConsumer.
type FakeMsg struct {
	Subj    string
	Body    []byte
	Headers map[string]string
	// Remaining is the value reported by Pending after this message.
	Remaining uint64

	mu    sync.Mutex
	acked bool
}

func (m *FakeMsg) Subject() string { return m.Subj }
func (m *FakeMsg) Data() []byte    { return m.Body }

func (m *FakeMsg) Header(name string) string {
	return m.Headers[name]
}

func (m *FakeMsg) Pending() uint64 { return m.Remaining }

func (m *FakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

// Acked reports whether Ack was called.
func (m *FakeMsg) Acked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

// FakeIter yields the consumer's messages in order, then blocks until
// stopped, like a live tail.
type FakeIter struct {
	mu      sync.Mutex
	msgs    []*FakeMsg
	stopped chan struct{}
	StopErr error
}

func (i *FakeIter) Next() (Msg, error) {
	i.mu.Lock()
	if len(i.msgs) > 0 {
		m := i.msgs[0]
		i.msgs = i.msgs[1:]
		i.mu.Unlock()
		return m, nil
	}
	i.mu.Unlock()

	<-i.stopped
	return nil, ErrIterClosed
}

func (i *FakeIter) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	select {
	case <-i.stopped:
	default:
		close(i.stopped)
	}
	return i.StopErr
}

// FakeConsumer serves a fixed backlog of messages.
type FakeConsumer struct {
	Msgs    []*FakeMsg
	StopErr error

	mu   sync.Mutex
	iter *FakeIter
}

func (c *FakeConsumer) Pending() uint64 {
	return uint64(len(c.Msgs))
}

func (c *FakeConsumer) Messages() (MessageIter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iter = &FakeIter{
		msgs:    append([]*FakeMsg(nil), c.Msgs...),
		stopped: make(chan struct{}),
		StopErr: c.StopErr,
	}
	return c.iter, nil
}

// FakeKV is an in-memory KV bucket recording its call history.
type FakeKV struct {
	mu       sync.Mutex
	Data     map[string][]byte
	GetCalls []string
	PutCalls []string
	GetErr   error
	PutErr   error
}

// NewFakeKV creates an empty bucket.
func NewFakeKV() *FakeKV {
	return &FakeKV{Data: map[string][]byte{}}
}

func (k *FakeKV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.GetCalls = append(k.GetCalls, key)
	if k.GetErr != nil {
		return nil, k.GetErr
	}
	value, ok := k.Data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (k *FakeKV) Put(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.PutCalls = append(k.PutCalls, key)
	if k.PutErr != nil {
		return k.PutErr
	}
	k.Data[key] = value
	return nil
}

// FakePublish records one Publish call.
type FakePublish struct {
	Subject string
	ID      string
	Data    []byte
}

// FakeBus wires fake streams, consumers and buckets together.
type FakeBus struct {
	mu sync.Mutex

	// Streams maps subject -> stream name; unmapped subjects resolve
	// to ErrNoStream.
	Streams map[string]string

	// Consumers maps filter subject -> consumer.
	Consumers map[string]*FakeConsumer

	// Buckets maps bucket name -> KV store; missing buckets are
	// created on first open, like the real adapter.
	Buckets map[string]*FakeKV

	Published []FakePublish

	ConsumerErr error
	KeyValueErr error
	PublishErr  error
}

// NewFakeBus creates an empty bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		Streams:   map[string]string{},
		Consumers: map[string]*FakeConsumer{},
		Buckets:   map[string]*FakeKV{},
	}
}

// NewConnWithBus returns a connection manager bound to an already-open
// bus with no transport session behind it, for use in tests.
func NewConnWithBus(bus MessageBus) *Conn {
	c := NewConn(DefaultConfig())
	c.bus = bus
	return c
}

func (b *FakeBus) StreamForSubject(_ context.Context, subject string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.Streams[subject]
	if !ok {
		return "", ErrNoStream
	}
	return name, nil
}

func (b *FakeBus) Consumer(_ context.Context, _ string, spec ConsumerSpec) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConsumerErr != nil {
		return nil, b.ConsumerErr
	}
	cons, ok := b.Consumers[spec.FilterSubject]
	if !ok {
		cons = &FakeConsumer{}
		b.Consumers[spec.FilterSubject] = cons
	}
	return cons, nil
}

func (b *FakeBus) KeyValue(_ context.Context, bucket string) (KeyValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.KeyValueErr != nil {
		return nil, b.KeyValueErr
	}
	kv, ok := b.Buckets[bucket]
	if !ok {
		kv = NewFakeKV()
		b.Buckets[bucket] = kv
	}
	return kv, nil
}

func (b *FakeBus) Publish(_ context.Context, subject, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.Published = append(b.Published, FakePublish{Subject: subject, ID: id, Data: data})
	return nil
}
