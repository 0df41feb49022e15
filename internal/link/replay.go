package link

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// ReplayPort plays back a recorded raw VoSPI byte stream, looping at the
// end. Writes are accepted and discarded.
type ReplayPort struct {
	mu     sync.Mutex
	data   []byte
	reader *bytes.Reader
	loops  int
	closed bool
}

// OpenReplay loads a capture file recorded from a link.
func OpenReplay(path string) (*ReplayPort, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return NewReplayPort(data)
}

// NewReplayPort replays data. It fails on an empty stream, which would
// otherwise spin.
func NewReplayPort(data []byte) (*ReplayPort, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("replay stream is empty")
	}
	return &ReplayPort{data: data, reader: bytes.NewReader(data)}, nil
}

// Read returns the next bytes of the recording, rewinding at the end.
func (p *ReplayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.reader.Len() == 0 {
		p.reader.Reset(p.data)
		p.loops++
	}
	return p.reader.Read(b)
}

// Write discards b.
func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	return len(b), nil
}

// ResetInputBuffer is a no-op: a recording has no stale bytes.
func (p *ReplayPort) ResetInputBuffer() error {
	return nil
}

// Loops returns how many times the recording has wrapped.
func (p *ReplayPort) Loops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops
}

// Close stops playback.
func (p *ReplayPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
