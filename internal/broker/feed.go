package broker

import (
	"context"
	"sync"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
)

// Feed holds the latest credential and fans every publish out to its
// subscribers. A nil value means no credential has been published yet.
type Feed struct {
	mu     sync.Mutex
	latest *credentialexchange.Credential
	subs   map[*subscriber]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*subscriber]struct{})}
}

// subscriber is an unbounded queue drained by its own goroutine,
// a push never blocks the publisher.
type subscriber struct {
	mu     sync.Mutex
	queue  []*credentialexchange.Credential
	notify chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{notify: make(chan struct{}, 1)}
}

func (s *subscriber) push(c *credentialexchange.Credential) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (*credentialexchange.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	c := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return c, true
}

func clone(c *credentialexchange.Credential) *credentialexchange.Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Publish replaces the latest value and queues it for every subscriber.
// Publishes are serialised so each subscriber observes them in order.
func (f *Feed) Publish(c credentialexchange.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = &c
	for s := range f.subs {
		s.push(clone(f.latest))
	}
}

// Latest returns a copy of the most recent value, nil if none
func (f *Feed) Latest() *credentialexchange.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clone(f.latest)
}

// Subscribe returns a channel that first yields the latest value (nil when
// absent) and then every later publish. The channel is closed once ctx is
// done.
func (f *Feed) Subscribe(ctx context.Context) <-chan *credentialexchange.Credential {
	out := make(chan *credentialexchange.Credential)
	s := newSubscriber()

	f.mu.Lock()
	s.push(clone(f.latest))
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go f.deliver(ctx, s, out)
	return out
}

func (f *Feed) deliver(ctx context.Context, s *subscriber, out chan<- *credentialexchange.Credential) {
	defer close(out)
	defer f.detach(s)
	for {
		c, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) detach(s *subscriber) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Subscribers returns the number of attached subscribers
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
