package ingest

import (
	"context"
	"sync"
)

const streamBuffer = 256

// chanStream Stream fed by producer goroutines. The first producer error ends it.
type chanStream struct {
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	onClose   func()
}

func newChanStream(parent context.Context, onClose func()) *chanStream {
	ctx, cancel := context.WithCancel(parent)
	return &chanStream{
		events:  make(chan Event, streamBuffer),
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
	}
}

// goProduce runs fn as a producer.
func (s *chanStream) goProduce(fn func(ctx context.Context) error) {
	s.active++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.fail(err)
		}
	}()
}

// start closes the event channel once every producer is done.
// A stream without producers stays open until closed.
func (s *chanStream) start() {
	if s.active == 0 {
		s.goProduce(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}
	go func() {
		s.wg.Wait()
		close(s.events)
	}()
}

func (s *chanStream) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *chanStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *chanStream) Events() <-chan Event {
	return s.events
}

func (s *chanStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chanStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}
