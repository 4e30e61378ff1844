package main // import "github.com/tcolgate/catcam"

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned to writers and waiters once the sink has been closed.
var ErrSinkClosed = errors.New("frame sink closed")

var soiMarker = []byte{0xFF, 0xD8}

// FrameSink assembles the camera byte stream into whole JPEG frames and hands
// the most recent one to any number of waiting readers.
//
// Write must only be called from a single goroutine. Current and Next are
// safe for concurrent use.
type FrameSink struct {
	// accumulator, only touched by the writer
	buf bytes.Buffer

	mu        sync.Mutex
	cond      *sync.Cond
	frame     []byte
	gen       uint64
	closed    bool
	discarded uint64
}

func NewFrameSink() *FrameSink {
	s := &FrameSink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write ingests one chunk from the camera. A chunk starting with the JPEG
// start-of-image marker completes the frame accumulated so far, which is
// published before the chunk is appended to a fresh accumulation.
func (s *FrameSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if bytes.HasPrefix(p, soiMarker) {
		if err := s.publish(); err != nil {
			return 0, err
		}
	} else if s.isClosed() {
		return 0, ErrSinkClosed
	}

	return s.buf.Write(p)
}

func (s *FrameSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FrameSink) publish() error {
	defer s.buf.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	// Anything before the first marker is not a frame.
	if !bytes.HasPrefix(s.buf.Bytes(), soiMarker) {
		s.discarded += uint64(s.buf.Len())
		return nil
	}

	s.frame = bytes.Clone(s.buf.Bytes())
	s.gen++
	s.cond.Broadcast()

	return nil
}

// Current returns the latest complete frame and its generation. The frame is
// nil until the first one has been published and must not be modified.
func (s *FrameSink) Current() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.gen
}

// Next blocks until a frame newer than generation last has been published
// and returns it. Frames published while the caller was not waiting are
// skipped, only the latest is ever returned.
func (s *FrameSink) Next(ctx context.Context, last uint64) ([]byte, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.gen == last {
		if s.closed {
			return nil, last, ErrSinkClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, last, err
		}
		s.cond.Wait()
	}

	return s.frame, s.gen, nil
}

// Close releases every waiter with ErrSinkClosed.
func (s *FrameSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}

// SinkStats counts published frames and bytes dropped before the first frame.
type SinkStats struct {
	Frames         uint64
	DiscardedBytes uint64
}

func (s *FrameSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{
		Frames:         s.gen,
		DiscardedBytes: s.discarded,
	}
}
