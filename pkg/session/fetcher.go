package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FetchResult is what a finished fetch hands back to the serialization
// point. Exactly one of Reply and Err is meaningful.
type FetchResult struct {
	FetchID string
	Reply   string
	Err     error
}

// FetchHandle is one in-flight LLM call. It never touches the conversation;
// the result has to be passed to Manager.Deliver.
type FetchHandle struct {
	ID string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	result FetchResult
}

func newFetchHandle(cancel context.CancelFunc) *FetchHandle {
	id := uuid.NewString()
	return &FetchHandle{
		ID:     id,
		done:   make(chan struct{}),
		cancel: cancel,
		result: FetchResult{FetchID: id},
	}
}

func (h *FetchHandle) setResult(reply string, err error) {
	h.mu.Lock()
	h.result.Reply = reply
	h.result.Err = err
	h.cancel = nil
	h.mu.Unlock()
	close(h.done)
}

// Done is closed once the result is available.
func (h *FetchHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the fetch finished.
func (h *FetchHandle) Wait() FetchResult {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Result returns the result without blocking, if there is one.
func (h *FetchHandle) Result() (FetchResult, bool) {
	select {
	case <-h.done:
		return h.Wait(), true
	default:
		return FetchResult{}, false
	}
}

// Cancel aborts the call. The handle still completes, with an error result.
// It is safe to call multiple times.
func (h *FetchHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Fetcher runs LLM calls off the caller's goroutine, one call per Start.
type Fetcher struct {
	engine  llm.Engine
	timeout time.Duration
}

func NewFetcher(engine llm.Engine, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	return &Fetcher{engine: engine, timeout: timeout}
}

// Start calls the engine with messages in a new goroutine and returns
// immediately. messages must not be shared with the live conversation.
func (f *Fetcher) Start(ctx context.Context, messages []conversation.Message) *FetchHandle {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	h := newFetchHandle(cancel)

	go func() {
		defer cancel()
		start := time.Now()
		reply, err := f.engine.Complete(ctx, messages)
		if err != nil {
			err = llm.Classify(err)
			log.Warn().Err(err).Str("fetch_id", h.ID).Dur("elapsed", time.Since(start)).Msg("LLM fetch failed")
		} else {
			log.Debug().Str("fetch_id", h.ID).Dur("elapsed", time.Since(start)).Int("reply_len", len(reply)).Msg("LLM fetch finished")
		}
		h.setResult(reply, err)
	}()

	return h
}
