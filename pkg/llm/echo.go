package llm

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/pkg/errors"
)

// EchoEngine replies with the last human message. It needs no network and is
// used for offline runs and demos.
type EchoEngine struct {
	Delay time.Duration
}

var _ Engine = (*EchoEngine)(nil)

func NewEchoEngine() *EchoEngine {
	return &EchoEngine{}
}

func (e *EchoEngine) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", Classify(ctx.Err())
		case <-time.After(e.Delay):
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleHuman {
			return messages[i].Text, nil
		}
	}
	return "", Malformed("no human message to echo")
}

type scriptedStep struct {
	reply string
	err   error
}

// ScriptedEngine returns queued replies and errors in order and records every
// transcript it was called with. When a gate is set, each call blocks until
// the gate yields a value or the context ends.
type ScriptedEngine struct {
	mu    sync.Mutex
	steps []scriptedStep
	calls [][]conversation.Message
	gate  chan struct{}
}

var _ Engine = (*ScriptedEngine)(nil)

func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{}
}

func (s *ScriptedEngine) Reply(text string) *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptedStep{reply: text})
	return s
}

func (s *ScriptedEngine) Fail(err error) *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptedStep{err: err})
	return s
}

// Gated makes every following call wait for Release.
func (s *ScriptedEngine) Gated() *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
	return s
}

// Release lets one blocked call proceed.
func (s *ScriptedEngine) Release() {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

func (s *ScriptedEngine) Calls() [][]conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([][]conversation.Message, len(s.calls))
	copy(ret, s.calls)
	return ret
}

func (s *ScriptedEngine) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	s.mu.Lock()
	recorded := make([]conversation.Message, len(messages))
	copy(recorded, messages)
	s.calls = append(s.calls, recorded)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return "", Classify(ctx.Err())
		case <-gate:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return "", newFetchError(ErrUnreachable, errors.New("scripted engine has no more replies"))
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return "", Classify(step.err)
	}
	return step.reply, nil
}
