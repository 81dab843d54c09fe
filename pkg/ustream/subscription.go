package ustream

import (
	"context"
	"sync"
	"time"
)

const defaultSegmentDuration = 5 * time.Second

// Subscription is the segment queue of a single track reader.
type Subscription struct {
	client *Client

	// queue is guarded by client.segmentsMu
	queue  []Segment
	notify chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	watermark    int64
	lastDuration time.Duration
}

func newSubscription(client *Client, initial []Segment, watermark int64) *Subscription {
	return &Subscription{
		client:       client,
		queue:        initial,
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
		watermark:    watermark,
		lastDuration: defaultSegmentDuration,
	}
}

// push must be called with client.segmentsMu held.
func (s *Subscription) push(segments []Segment) {
	before := len(s.queue)
	s.queue = appendSegments(s.queue, segments)
	if len(s.queue) == before {
		return
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Segment, bool) {
	s.client.segmentsMu.Lock()
	defer s.client.segmentsMu.Unlock()

	if len(s.queue) == 0 {
		return Segment{}, false
	}

	seg := s.queue[0]
	s.queue = s.queue[1:]
	return seg, true
}

// Len returns the number of queued segments.
func (s *Subscription) Len() int {
	s.client.segmentsMu.Lock()
	defer s.client.segmentsMu.Unlock()
	return len(s.queue)
}

// Next blocks until a segment newer than every emitted one is available.
// While the queue is empty it polls every half segment duration. Segments
// below the watermark are dropped.
func (s *Subscription) Next(ctx context.Context) (Segment, error) {
	for {
		seg, ok := s.pop()
		if !ok {
			timer := time.NewTimer(s.lastDuration / 2)

			select {
			case <-s.notify:
			case <-timer.C:
			case <-s.closed:
				timer.Stop()
				return Segment{}, ErrClosed
			case <-s.client.ctx.Done():
				timer.Stop()
				return Segment{}, ErrClosed
			case <-ctx.Done():
				timer.Stop()
				return Segment{}, ctx.Err()
			}

			timer.Stop()
			continue
		}

		if seg.Duration > 0 {
			s.lastDuration = seg.Duration
		}

		if seg.Num < s.watermark {
			s.client.config.Collector.SegmentSkipped()
			continue
		}

		s.watermark = seg.Num + 1
		return seg, nil
	}
}

// Close unregisters the subscription from the client.
func (s *Subscription) Close() {
	s.client.unsubscribe(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
