package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-credentials/internal/metrics"
)

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	keys      []string
	failNext  error
	closed    bool
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newTestPublisher(t *testing.T, buffer int) (*Publisher, *[]*fakeChannel, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	p := NewPublisher("amqp://test", buffer, nil, m)
	var dialed []*fakeChannel
	p.dial = func(string) (channel, io.Closer, error) {
		ch := &fakeChannel{}
		dialed = append(dialed, ch)
		return ch, nopCloser{}, nil
	}
	return p, &dialed, m
}

func TestPublish_DeclaresOnceAndMarshals(t *testing.T) {
	p, dialed, _ := newTestPublisher(t, 4)
	ctx := context.Background()

	ev := ResourceClaimedEvent{EventID: 1, AttendeeID: 2, Resource: "lunch", Remaining: 3, Total: 10}
	require.NoError(t, p.Publish(ctx, ev))
	require.NoError(t, p.Publish(ctx, ev))

	require.Len(t, *dialed, 1)
	ch := (*dialed)[0]
	assert.Equal(t, []string{QueueResourceClaimed}, ch.declared)
	assert.Equal(t, []string{QueueResourceClaimed, QueueResourceClaimed}, ch.keys)

	pub := ch.published[0]
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.DeliveryMode)
	var got ResourceClaimedEvent
	require.NoError(t, json.Unmarshal(pub.Body, &got))
	assert.Equal(t, ev.Resource, got.Resource)
	assert.Equal(t, 3, got.Remaining)
}

func TestPublish_RedialsAfterFailure(t *testing.T) {
	p, dialed, _ := newTestPublisher(t, 4)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, LowStockEvent{Resource: "kit"}))
	(*dialed)[0].failNext = errors.New("connection reset")
	assert.Error(t, p.Publish(ctx, LowStockEvent{Resource: "kit"}))
	assert.True(t, (*dialed)[0].closed)

	require.NoError(t, p.Publish(ctx, LowStockEvent{Resource: "kit"}))
	require.Len(t, *dialed, 2)
	assert.Equal(t, []string{QueueLowStock}, (*dialed)[1].declared)
}

func TestPublish_DialFailure(t *testing.T) {
	p := NewPublisher("amqp://test", 1, nil, nil)
	p.dial = func(string) (channel, io.Closer, error) { return nil, nil, errors.New("refused") }
	assert.Error(t, p.Publish(context.Background(), CheckedInEvent{}))
}

func TestNotify_DropsWhenFull(t *testing.T) {
	p, _, m := newTestPublisher(t, 1)

	p.Notify(CheckedInEvent{AttendeeID: 1})
	p.Notify(CheckedInEvent{AttendeeID: 2})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
	assert.Len(t, p.buf, 1)
}

func TestStartClose_DeliversBuffered(t *testing.T) {
	p, dialed, m := newTestPublisher(t, 8)
	for i := 0; i < 5; i++ {
		p.Notify(CredentialIssuedEvent{AttendeeID: uint64(i)})
	}
	p.Start(context.Background())
	p.Close()

	require.NotEmpty(t, *dialed)
	total := 0
	for _, ch := range *dialed {
		total += ch.count()
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))

	p.Notify(CredentialIssuedEvent{AttendeeID: 9})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	p, _, _ := newTestPublisher(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestClose_CountsNotificationsAfterCancelAsDropped(t *testing.T) {
	p, dialed, m := newTestPublisher(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.wg.Wait()

	for i := 0; i < 3; i++ {
		p.Notify(CheckedInEvent{AttendeeID: uint64(i)})
	}
	p.Close()

	assert.Empty(t, *dialed)
	assert.Len(t, p.buf, 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))
}
