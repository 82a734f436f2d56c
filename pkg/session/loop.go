package session

import (
	"context"

	"github.com/rs/zerolog/log"
)

type loopOp struct {
	fn   func(ctx context.Context, m *Manager) error
	errc chan error
}

// Loop confines a Manager to a single goroutine. Drivers that serve
// concurrent callers (the HTTP server) submit work through Do, and finished
// fetches are delivered on the same goroutine.
type Loop struct {
	m       *Manager
	ops     chan loopOp
	stopped chan struct{}
}

func NewLoop(m *Manager) *Loop {
	return &Loop{
		m:       m,
		ops:     make(chan loopOp),
		stopped: make(chan struct{}),
	}
}

// Run serves operations until ctx ends. An outstanding fetch is cancelled on
// exit.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	defer l.m.Close()

	log.Debug().Str("session_id", l.m.ID()).Msg("Session loop started")
	for {
		var fetchDone <-chan struct{}
		pending := l.m.Pending()
		if pending != nil {
			fetchDone = pending.Done()
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("session_id", l.m.ID()).Msg("Session loop stopped")
			return ctx.Err()

		case op := <-l.ops:
			op.errc <- op.fn(ctx, l.m)

		case <-fetchDone:
			if err := l.m.Deliver(pending.Wait()); err != nil {
				log.Warn().Err(err).Msg("Could not deliver fetch result")
			}
		}
	}
}

// Do runs fn on the loop goroutine and returns its error. fn receives the
// loop's context, which outlives ctx, so fetches started by fn are not tied
// to the caller. fn must not call Do itself.
func (l *Loop) Do(ctx context.Context, fn func(loopCtx context.Context, m *Manager) error) error {
	op := loopOp{fn: fn, errc: make(chan error, 1)}

	select {
	case l.ops <- op:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed once Run returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
