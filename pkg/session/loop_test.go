package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, engine llm.Engine) (*Loop, context.CancelFunc) {
	t.Helper()
	stores := store.NewInMemoryStores()
	m := NewManager(stores.Characters, stores.Chats, NewFetcher(engine, time.Second))
	l := NewLoop(m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Stopped()
	})
	return l, cancel
}

func status(t *testing.T, l *Loop) Status {
	t.Helper()
	var st Status
	require.NoError(t, l.Do(context.Background(), func(_ context.Context, m *Manager) error {
		st = m.Status()
		return nil
	}))
	return st
}

func TestLoopDeliversFetchOnItsGoroutine(t *testing.T) {
	engine := llm.NewScriptedEngine().Reply("Hi!")
	l, _ := startLoop(t, engine)

	err := l.Do(context.Background(), func(ctx context.Context, m *Manager) error {
		_, err := m.SubmitHumanMessage(ctx, "Hello")
		return err
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := status(t, l)
		return !st.Pending && st.Length == 4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoopFetchOutlivesCallerContext(t *testing.T) {
	engine := llm.NewScriptedEngine().Reply("Hi!").Gated()
	l, _ := startLoop(t, engine)

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	require.NoError(t, l.Do(callerCtx, func(ctx context.Context, m *Manager) error {
		_, err := m.SubmitHumanMessage(ctx, "Hello")
		return err
	}))
	cancelCaller()

	engine.Release()
	require.Eventually(t, func() bool {
		return status(t, l).Length == 4
	}, 2*time.Second, 5*time.Millisecond)

	var last string
	require.NoError(t, l.Do(context.Background(), func(_ context.Context, m *Manager) error {
		msg, _ := m.Transcript().Last()
		last = msg.Text
		return nil
	}))
	assert.Equal(t, "Hi!", last)
}

func TestLoopSerializesConcurrentCallers(t *testing.T) {
	l, _ := startLoop(t, llm.NewEchoEngine())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(_ context.Context, m *Manager) error {
				m.UpdateOpeningMessage("hello")
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, status(t, l).Length)
}

func TestLoopDoAfterStop(t *testing.T) {
	stores := store.NewInMemoryStores()
	m := NewManager(stores.Characters, stores.Chats, NewFetcher(llm.NewEchoEngine(), time.Second))
	l := NewLoop(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	err := l.Do(context.Background(), func(context.Context, *Manager) error { return nil })
	assert.ErrorIs(t, err, ErrLoopStopped)
}
