package pubsub

import "context"

// Message is a payload delivered on a subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription streams messages until closed or its context ends. Close is
// safe to call more than once.
type Subscription interface {
	Messages() <-chan Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Provider publishes to and subscribes on named channels.
type Provider interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}
