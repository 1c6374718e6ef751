package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine to the Stream interface.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	once sync.Once
}

// newEventStream runs produce in a goroutine. Events sent on the channel are
// returned by Recv in order; the producer's error (or io.EOF) follows the last
// event.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

// Close cancels the producer and drains anything it still sends.
func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}
