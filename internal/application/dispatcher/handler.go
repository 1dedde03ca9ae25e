package dispatcher

import (
	"context"

	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// Publisher is the narrow side of the dispatcher used by services that only
// emit events. Publish never blocks on handlers and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, evt *event.Event)

func (f PublisherFunc) Publish(ctx context.Context, evt *event.Event) {
	f(ctx, evt)
}

// NopPublisher drops every event
var NopPublisher Publisher = PublisherFunc(func(context.Context, *event.Event) {})
