package vision

import (
	"context"
	"io"
	"sync"
)

// ScriptedSource replays a fixed frame sequence. It backs dev mode and
// pipeline tests, where detector output is scripted rather than
// captured.
type ScriptedSource struct {
	mu       sync.Mutex
	frames   []Frame
	next     int
	degraded bool
	closed   bool
}

// NewScriptedSource builds a source that yields the given frames in
// order and then reports io.EOF.
func NewScriptedSource(frames []Frame, degraded bool) *ScriptedSource {
	return &ScriptedSource{frames: frames, degraded: degraded}
}

// Next returns the next scripted frame.
func (s *ScriptedSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// Degraded reports whether the script simulates a missing model.
func (s *ScriptedSource) Degraded() bool { return s.degraded }

// Close stops the source; subsequent Next calls return io.EOF.
func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
