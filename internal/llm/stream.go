package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function to the Stream interface. The
// producer runs in its own goroutine and pushes events into a channel;
// Recv drains the channel until the producer returns, then surfaces its
// error or io.EOF. Close cancels the producer's context.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	wg sync.WaitGroup
}

// newEventStream starts run in a goroutine and returns a Stream over the
// events it emits. run must return once it has emitted everything; its
// error, if any, is returned by Recv after the channel drains.
func newEventStream(ctx context.Context, run func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.events)
		if err := run(ctx, s.events); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	// Drain so the producer is never stuck on a send.
	go func() {
		for range s.events {
		}
	}()
	s.wg.Wait()
	return nil
}
