// Package simulator stands in for a Lepton on the bench: Stream produces the
// VoSPI byte stream a sensor would send and Control answers the command
// interface.
package simulator

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/thermal.capture/internal/link"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// Scene returns the AGC intensity of pixel (x, y) in frame n.
type Scene func(n uint64, x, y int) uint8

// Gradient is a diagonal ramp that scrolls by one step per frame.
func Gradient(n uint64, x, y int) uint8 {
	return uint8(uint64(x+y) + n)
}

// HotSpot is a cool background with a warm disc in the middle.
func HotSpot(n uint64, x, y int) uint8 {
	dx, dy := x-40, y-30
	if dx*dx+dy*dy < 100 {
		return 0xE0
	}
	return 0x20
}

// StreamConfig contains configuration for a simulated stream.
type StreamConfig struct {
	Geometry    vospi.Geometry // default: 80x60
	Discards    int            // discard packets between frames (default: 3)
	Scene       Scene          // default: Gradient
	FramePeriod time.Duration  // pacing per frame, 0 for as fast as read
	Clock       timeutil.Clock // used for pacing (default: timeutil.RealClock)
}

// StreamStats counts what the stream has produced.
type StreamStats struct {
	Frames  uint64
	Packets uint64
	Dropped uint64 // packets withheld by DropPacket
	Flushes uint64
}

// Stream is an endless VoSPI byte stream. ResetInputBuffer discards the
// rest of the frame in flight and restarts at the next frame boundary,
// which is what the sensor does after the link has been quiet.
type Stream struct {
	geometry vospi.Geometry
	discards int
	scene    Scene
	period   time.Duration
	clock    timeutil.Clock

	mu      sync.Mutex
	pending []byte
	frame   uint64
	drop    int // packet index to withhold from the next frame, -1 for none
	skew    int // bytes to drop from the head of the next frame
	closed  bool
	stats   StreamStats
}

var (
	_ link.Port    = (*Stream)(nil)
	_ link.Flusher = (*Stream)(nil)
)

// NewStream creates a Stream.
func NewStream(config StreamConfig) (*Stream, error) {
	if config.Geometry == (vospi.Geometry{}) {
		config.Geometry = vospi.GeometrySingleSegment
	}
	if !config.Geometry.Valid() {
		return nil, fmt.Errorf("simulator: unsupported geometry %s", config.Geometry)
	}
	if config.Discards <= 0 {
		config.Discards = 3
	}
	if config.Scene == nil {
		config.Scene = Gradient
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Stream{
		geometry: config.Geometry,
		discards: config.Discards,
		scene:    config.Scene,
		period:   config.FramePeriod,
		clock:    config.Clock,
		drop:     -1,
	}, nil
}

// Geometry returns the simulated frame layout.
func (s *Stream) Geometry() vospi.Geometry {
	return s.geometry
}

// DropPacket withholds frame packet index i from the next generated frame.
// Any index other than 0 makes the receiver lose sync.
func (s *Stream) DropPacket(i int) {
	s.mu.Lock()
	s.drop = i
	s.mu.Unlock()
}

// Misalign drops n bytes from the head of the next generated frame so
// packet boundaries no longer line up with the reader's.
func (s *Stream) Misalign(n int) {
	s.mu.Lock()
	s.skew = n
	s.mu.Unlock()
}

// Stats returns a copy of the counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Read fills b from the stream, generating a frame whenever the previous
// one has been consumed.
func (s *Stream) Read(b []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, link.ErrPortClosed
	}
	if len(s.pending) == 0 {
		s.pending = s.nextFrameLocked()
		if s.period > 0 {
			s.mu.Unlock()
			s.clock.Sleep(s.period)
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return 0, link.ErrPortClosed
			}
		}
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

// Write accepts and discards b; the VoSPI link is receive only.
func (s *Stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, link.ErrPortClosed
	}
	return len(b), nil
}

// ResetInputBuffer drops the frame in flight.
func (s *Stream) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.stats.Flushes++
	return nil
}

// Close ends the stream; later reads return link.ErrPortClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// WriteFrames writes n frames of the stream to w, for making replay files.
func (s *Stream) WriteFrames(w io.Writer, n int) error {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		buf := s.nextFrameLocked()
		s.mu.Unlock()
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return nil
}

func (s *Stream) nextFrameLocked() []byte {
	packets := s.geometry.PacketsPerFrame()
	out := make([]byte, 0, (packets+s.discards)*vospi.PacketSize)
	pkt := make([]byte, vospi.PacketSize)

	for i := 0; i < s.discards; i++ {
		vospi.EncodeDiscard(pkt)
		out = append(out, pkt...)
	}

	samples := make([]uint16, vospi.LinePixels)
	w := s.geometry.Width
	for p := 0; p < packets; p++ {
		if p == s.drop {
			s.drop = -1
			s.stats.Dropped++
			continue
		}
		for col := range samples {
			i := p*vospi.LinePixels + col
			x, y := i%w, i/w
			samples[col] = 0
			if y < s.geometry.Height {
				samples[col] = uint16(s.scene(s.frame, x, y))
			}
		}
		pid := uint16(p % vospi.SegmentRows)
		var seg uint8
		if packets > vospi.SegmentRows && pid == vospi.SpecialPacket {
			seg = uint8(p/vospi.SegmentRows + 1)
		}
		vospi.EncodePacket(pkt, pid, seg, samples)
		out = append(out, pkt...)
		s.stats.Packets++
	}

	if s.skew > 0 && s.skew < len(out) {
		out = out[s.skew:]
		s.skew = 0
	}
	s.frame++
	s.stats.Frames++
	return out
}
