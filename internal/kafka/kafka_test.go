package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-dispatcher/internal/logging"
	"alert-dispatcher/internal/models"
	"alert-dispatcher/internal/notification"
)

func quietLogger() *logrus.Entry {
	return logging.Component(logging.Discard(), "test")
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerKeysByLogID(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "alert_delivery", logger: quietLogger()}
	notBefore := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)

	err := p.Dispatch(context.Background(), models.DeliveryTask{RequestID: "r1", LogID: 42, Attempt: 2, NotBefore: notBefore})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	var got models.DeliveryTask
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, int64(42), got.LogID)
	assert.Equal(t, 2, got.Attempt)
	assert.True(t, got.NotBefore.Equal(notBefore))
}

func TestProducerWrapsWriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t", logger: quietLogger()}
	err := p.Dispatch(context.Background(), models.DeliveryTask{LogID: 1, Attempt: 1})
	assert.ErrorContains(t, err, "broker down")
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
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

type fakeProcessor struct {
	mu    sync.Mutex
	tasks []models.DeliveryTask
}

func (p *fakeProcessor) Process(_ context.Context, task models.DeliveryTask) notification.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return notification.Outcome{Status: models.StatusSent}
}

func TestConsumerProcessesAndCommits(t *testing.T) {
	good, _ := json.Marshal(models.DeliveryTask{RequestID: "r", LogID: 7})
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: good},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: []byte(`{"log_id":0}`)},
	}}
	proc := &fakeProcessor{}
	c := &Consumer{reader: reader, svc: proc, logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	c.Start(ctx, &wg)

	assert.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	require.Len(t, proc.tasks, 1)
	assert.Equal(t, int64(7), proc.tasks[0].LogID)
	assert.Equal(t, 1, proc.tasks[0].Attempt)
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
}
