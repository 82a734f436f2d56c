package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventRouter bundles an in-process gochannel pubsub with a watermill router
// for handlers that want to consume transcript events.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	buffer     int64
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

// WithVerbose logs watermill internals through the global zerolog logger.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

// WithOutputBuffer sets the per-subscriber channel buffer.
func WithOutputBuffer(n int64) EventRouterOption {
	return func(r *EventRouter) {
		r.buffer = n
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		buffer: 64,
	}
	for _, o := range options {
		o(ret)
	}

	// Publish returns once every subscriber acked, which keeps events in
	// order. Subscribers must ack promptly.
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            ret.buffer,
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = pubSub
	ret.Subscriber = pubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// AddHandler registers f for every message on topic. It must be called
// before Run.
func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// Subscribe opens a raw subscription on topic that lives until ctx ends.
func (e *EventRouter) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return e.Subscriber.Subscribe(ctx, topic)
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Event router closed")
	return nil
}
