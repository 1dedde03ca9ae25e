package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "exp-1", "mgr-1", nil)
}

func TestSubscribe_GeneratesUniqueNames(t *testing.T) {
	d := NewDispatcher()
	noop := func(ctx context.Context, evt *event.Event) error { return nil }

	d.Subscribe(event.TypeApprovalRecorded, noop)
	d.Subscribe(event.TypeApprovalRecorded, noop)

	handlers := d.ListHandlers(event.TypeApprovalRecorded)
	require.Len(t, handlers, 2)
	assert.NotEqual(t, handlers[0].Name, handlers[1].Name)
	assert.Nil(t, handlers[0].Handler, "handler funcs must not leak")
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls int32
	d.SubscribeNamed(event.TypeExpenseSettled, "history", func(ctx context.Context, evt *event.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	d.Unsubscribe(event.TypeExpenseSettled, "history")

	require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeExpenseSettled)))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name      string
		handlers  []Handler
		wantErr   bool
		wantCalls int32
	}{
		{
			name:      "no handlers",
			wantCalls: 0,
		},
		{
			name: "runs all in order",
			handlers: []Handler{
				func(ctx context.Context, evt *event.Event) error { return nil },
				func(ctx context.Context, evt *event.Event) error { return nil },
			},
			wantCalls: 2,
		},
		{
			name: "stops on first error",
			handlers: []Handler{
				func(ctx context.Context, evt *event.Event) error { return errors.New("boom") },
				func(ctx context.Context, evt *event.Event) error { return nil },
			},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name: "recovers panic",
			handlers: []Handler{
				func(ctx context.Context, evt *event.Event) error { panic("bad handler") },
			},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			d := NewDispatcher(WithLogger(logger))
			var calls int32
			for _, h := range tt.handlers {
				h := h
				d.Subscribe(event.TypeApprovalRecorded, func(ctx context.Context, evt *event.Event) error {
					atomic.AddInt32(&calls, 1)
					return h(ctx, evt)
				})
			}

			err := d.Dispatch(context.Background(), newEvent(event.TypeApprovalRecorded))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Positive(t, logger.ErrorCount())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestPublish_SurvivesCallerCancellation(t *testing.T) {
	d := NewDispatcher()
	got := make(chan error, 1)
	d.Subscribe(event.TypeFallbackGranted, func(ctx context.Context, evt *event.Event) error {
		time.Sleep(10 * time.Millisecond)
		got <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, newEvent(event.TypeFallbackGranted))
	cancel()

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	require.NoError(t, d.Close())
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	var done int32
	d.Subscribe(event.TypeExpenseSettled, func(ctx context.Context, evt *event.Event) error {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		return nil
	})

	d.DispatchAsync(context.Background(), newEvent(event.TypeExpenseSettled))
	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&done), "Close waits for async handlers")

	assert.Error(t, d.Close())
	assert.ErrorIs(t, d.Dispatch(context.Background(), newEvent(event.TypeExpenseSettled)), ErrClosed)
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var calls int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeApprovalRecorded, func(ctx context.Context, evt *event.Event) error {
				atomic.AddInt64(&calls, 1)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvent(event.TypeApprovalRecorded))
		}()
	}
	wg.Wait()

	assert.Len(t, d.ListHandlers(event.TypeApprovalRecorded), 20)
}
