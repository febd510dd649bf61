package pubsub

import (
	"context"
	"errors"
	"sync"
)

// MemoryProvider is an in-process Provider. Slow subscribers drop messages
// once their buffer is full, as Redis Pub/Sub does for lagging clients.
type MemoryProvider struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (p *MemoryProvider) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for sub := range p.subs[channel] {
		sub.deliver(Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (p *MemoryProvider) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		provider: p,
		channel:  channel,
		messages: make(chan Message, subscriptionBuffer),
		done:     make(chan struct{}),
	}
	p.mu.Lock()
	if p.subs[channel] == nil {
		p.subs[channel] = make(map[*memorySubscription]struct{})
	}
	p.subs[channel][sub] = struct{}{}
	p.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			sub.close(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (p *MemoryProvider) remove(sub *memorySubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs[sub.channel], sub)
	if len(p.subs[sub.channel]) == 0 {
		delete(p.subs, sub.channel)
	}
}

type memorySubscription struct {
	provider *MemoryProvider
	channel  string
	messages chan Message
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- msg:
	default:
	}
}

func (s *memorySubscription) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if !errors.Is(err, context.Canceled) {
		s.err = err
	}
	close(s.messages)
	close(s.done)
	s.mu.Unlock()
	s.provider.remove(s)
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.messages
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.close(nil)
	return nil
}
