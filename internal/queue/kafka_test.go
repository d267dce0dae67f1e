package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alexnthnz/notification-engine/internal/dispatch"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until ctx is cancelled
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type recordingSink struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (s *recordingSink) Enqueue(ctx context.Context, job dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func TestProducer_Enqueue(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: zaptest.NewLogger(t)}
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	err := p.Enqueue(context.Background(), dispatch.Job{NotificationID: "n-1", UserID: "user-1", Priority: "urgent", EnqueuedAt: at})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("n-1"), msg.Key)
	assert.JSONEq(t, `{"id":"n-1","user_id":"user-1","priority":"urgent","enqueued_at":"2026-05-04T12:00:00Z"}`, string(msg.Value))
	assert.Equal(t, []kafka.Header{{Key: "priority", Value: []byte("urgent")}}, msg.Headers)

	job, err := decodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, "n-1", job.NotificationID)
	assert.True(t, job.EnqueuedAt.Equal(at))

	w.err = errors.New("broker down")
	err = p.Enqueue(context.Background(), dispatch.Job{NotificationID: "n-2"})
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob(kafka.Message{Key: []byte("n-9"), Value: []byte(`{"user_id":"user-1"}`)})
	require.NoError(t, err)
	assert.Equal(t, "n-9", job.NotificationID, "falls back to the message key")

	_, err = decodeJob(kafka.Message{Value: []byte(`{}`)})
	assert.Error(t, err)

	_, err = decodeJob(kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestConsumer_ForwardsAndCommits(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Key: []byte("n-1"), Value: []byte(`{"id":"n-1"}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Key: []byte("n-3"), Value: []byte(`{"id":"n-3"}`)},
	}}
	c := &Consumer{reader: r, logger: zaptest.NewLogger(t)}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, sink) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits(), "malformed messages are committed too")
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.jobs, 2)
	assert.Equal(t, "n-1", sink.jobs[0].NotificationID)
	assert.Equal(t, "n-3", sink.jobs[1].NotificationID)
}

func TestConsumer_StopsWhenSinkCloses(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: []byte(`{"id":"n-1"}`)}}}
	c := &Consumer{reader: r, logger: zaptest.NewLogger(t)}

	err := c.Consume(context.Background(), &recordingSink{err: dispatch.ErrPoolClosed})
	assert.ErrorIs(t, err, dispatch.ErrPoolClosed)
	assert.Empty(t, r.commits(), "an unaccepted job is not committed")
}
