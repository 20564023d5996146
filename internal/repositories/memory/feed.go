package memory

import (
	"context"
	"sync"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

// Feed fans change events out to subscribers. A subscriber whose buffer is
// full misses the event, like a dropped push on a flaky link.
type Feed struct {
	mu         sync.Mutex
	subs       map[*subscription]struct{}
	bufferSize int
}

func NewFeed(bufferSize int) *Feed {
	return &Feed{
		subs:       make(map[*subscription]struct{}),
		bufferSize: bufferSize,
	}
}

func (f *Feed) Subscribe(ctx context.Context, filter models.ChangeFilter) (repositories.Subscription, error) {
	sub := &subscription{
		feed:   f,
		filter: filter,
		events: make(chan models.ChangeEvent, f.bufferSize),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	close(sub.ready)

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.remove(sub, nil)
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Publish delivers ev to every matching subscriber without blocking.
func (f *Feed) Publish(ev models.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Disconnect ends every open subscription with err.
func (f *Feed) Disconnect(err error) {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		f.remove(sub, err)
	}
}

// Subscribers returns the number of open subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) remove(sub *subscription, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	sub.err = err
	close(sub.events)
	close(sub.closed)
}

type subscription struct {
	feed   *Feed
	filter models.ChangeFilter
	events chan models.ChangeEvent
	ready  chan struct{}

	closed chan struct{}
	err    error
}

func (s *subscription) Events() <-chan models.ChangeEvent { return s.events }
func (s *subscription) Ready() <-chan struct{}            { return s.ready }

func (s *subscription) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.feed.remove(s, nil)
	return nil
}
