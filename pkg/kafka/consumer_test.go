package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 16)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func newTestConsumer(t *testing.T, r *fakeReader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(1, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.newReader = func(string) fetcher { return r }
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestConsumer_HandlesPartitionInOrder(t *testing.T) {
	r := newFakeReader()
	c := newTestConsumer(t, r, WithConsumerWorkers(4))

	var mu sync.Mutex
	var seen []string
	c.RegisterHandler(funcHandler{topic: "flux", fn: func(b []byte) error {
		mu.Lock()
		seen = append(seen, string(b))
		mu.Unlock()
		return nil
	}})
	require.NoError(t, c.Start())

	for i, v := range []string{"a", "b", "c", "d", "e"} {
		r.msgs <- kafka.Message{Partition: 0, Offset: int64(i), Value: []byte(v)}
	}

	assert.Eventually(t, func() bool { return len(r.commits()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, r.commits())
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
	mu.Unlock()

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, r.closed)
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	r := newFakeReader()
	c := newTestConsumer(t, r)

	var mu sync.Mutex
	calls := 0
	c.RegisterHandler(funcHandler{topic: "flux", fn: func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("clickhouse unavailable")
		}
		return nil
	}})
	require.NoError(t, c.Start())
	r.msgs <- kafka.Message{Offset: 7, Value: []byte("{}")}

	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestConsumer_FailureWithoutDLQLeavesOffset(t *testing.T) {
	r := newFakeReader()
	c := newTestConsumer(t, r)

	failed := make(chan error, 1)
	c.WithConsumerHook(HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) {
		failed <- err
	}})
	c.RegisterHandler(funcHandler{topic: "flux", fn: func([]byte) error { return errors.New("bad row") }})
	require.NoError(t, c.Start())
	r.msgs <- kafka.Message{Offset: 3, Value: []byte("x")}

	select {
	case err := <-failed:
		assert.EqualError(t, err, "bad row")
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, r.commits())
}

func TestConsumer_FailureGoesToDLQ(t *testing.T) {
	r := newFakeReader()
	c := newTestConsumer(t, r)
	dlq := &fakeWriter{}
	c.dlq = dlq

	c.RegisterHandler(funcHandler{topic: "flux", fn: func([]byte) error { return errors.New("bad row") }})
	require.NoError(t, c.Start())
	r.msgs <- kafka.Message{Offset: 9, Key: []byte("penticton"), Value: []byte("x")}

	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	msgs := dlq.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "penticton", string(msgs[0].Key))

	headers := map[string]string{}
	for _, h := range msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "flux", headers["source_topic"])
	assert.Equal(t, "9", headers["source_offset"])
}

func TestConsumer_StartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, newFakeReader())
	assert.Error(t, c.Start())
}

func TestNewConsumer_Validates(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)

	_, err = NewConsumer(WithConsumerBrokers([]string{"b"}), WithConsumerGroupID(""))
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 40; attempt++ {
		d := backoff(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}
