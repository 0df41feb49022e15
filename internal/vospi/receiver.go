package vospi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrReceiverStopped is reported by Err once Run has returned without a
// more specific cause.
var ErrReceiverStopped = errors.New("vospi: receiver stopped")

// InputFlusher is implemented by links that can discard bytes already
// buffered by the driver (go.bug.st/serial ports do).
type InputFlusher interface {
	ResetInputBuffer() error
}

// ReceiverStats are the receiver's own counters; protocol counters live in
// AssemblerStats.
type ReceiverStats struct {
	Packets  uint64 `json:"packets"`  // full packets read from the link
	Dropped  uint64 `json:"dropped"`  // packets dropped while a resync was pending
	Partials uint64 `json:"partials"` // packets abandoned mid-read by a disarm or re-arm
	Arms     uint64 `json:"arms"`
}

// Receiver keeps continuous reception running on a link and feeds every
// packet to the assembler synchronously. It has no protocol state of its
// own beyond armed or disarmed.
type Receiver struct {
	src io.Reader
	asm *Assembler

	events chan struct{} // single-slot packet-received signal
	wake   chan struct{} // nudges a parked reader after Arm

	mu         sync.Mutex
	armed      bool
	generation uint64 // bumped on every Arm, abandons partial reads
	running    bool
	done       chan struct{}
	err        error

	packets  atomic.Uint64
	dropped  atomic.Uint64
	partials atomic.Uint64
	arms     atomic.Uint64
}

// NewReceiver creates a disarmed receiver reading packets from src.
func NewReceiver(src io.Reader, asm *Assembler) *Receiver {
	return &Receiver{
		src:    src,
		asm:    asm,
		events: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Events delivers one signal per received packet. Signals coalesce when the
// consumer is slower than the link, so a receive means "at least one packet
// arrived since the last receive".
func (r *Receiver) Events() <-chan struct{} {
	return r.events
}

// Done is closed when Run returns.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Err returns the reason Run stopped, or nil while it is running.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Armed reports whether reception is active.
func (r *Receiver) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Arm (re)starts continuous reception. Any partially read packet is
// abandoned; the next bytes read start a fresh packet, even when they come
// from a read that was already blocked before Arm.
func (r *Receiver) Arm() {
	r.mu.Lock()
	r.armed = true
	r.generation++
	r.mu.Unlock()
	r.arms.Add(1)

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Disarm stops reception. A read already in flight completes; bytes it
// returns while still disarmed are discarded.
func (r *Receiver) Disarm() {
	r.mu.Lock()
	r.armed = false
	r.mu.Unlock()
}

// Flush discards any input the link has buffered, when it can.
func (r *Receiver) Flush() error {
	f, ok := r.src.(InputFlusher)
	if !ok {
		return nil
	}
	if err := f.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush link input: %w", err)
	}
	return nil
}

// Stats returns a copy of the receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Packets:  r.packets.Load(),
		Dropped:  r.dropped.Load(),
		Partials: r.partials.Load(),
		Arms:     r.arms.Load(),
	}
}

// Run reads packets until ctx is cancelled or the link fails. It must be
// called exactly once, normally in its own goroutine.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("vospi: receiver already running")
	}
	r.running = true
	r.mu.Unlock()

	err := r.run(ctx)

	r.mu.Lock()
	if err == nil {
		err = ErrReceiverStopped
	}
	r.err = err
	r.armed = false
	r.mu.Unlock()
	close(r.done)
	return err
}

func (r *Receiver) run(ctx context.Context) error {
	buf := make([]byte, PacketSize)
	var gen uint64
	n := 0
	for {
		if n == 0 {
			g, err := r.waitArmed(ctx)
			if err != nil {
				return err
			}
			gen = g
		}

		m, err := r.src.Read(buf[n:])
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read link: %w", err)
		}

		switch g, armed := r.current(); {
		case !armed:
			// bytes that arrive during the quiet interval belong to no packet
			if n+m > 0 {
				r.partials.Add(1)
			}
			n = 0
			continue
		case g != gen:
			// The read was parked across a re-arm. Only the bytes gathered
			// before it are stale; what it just returned starts the new
			// stream.
			if n > 0 {
				r.partials.Add(1)
			}
			copy(buf, buf[n:n+m])
			n = m
			gen = g
		default:
			n += m
		}
		if n < PacketSize {
			continue
		}

		r.packets.Add(1)
		r.dispatch(buf)
		n = 0
	}
}

// dispatch is the per-packet "interrupt" body: bounded, never blocking.
func (r *Receiver) dispatch(packet []byte) {
	if r.asm.Resyncing() {
		r.dropped.Add(1)
	} else {
		res := r.asm.OnPacket(packet)
		tracef("packet %x%x: %s", packet[0], packet[1], res)
	}

	select {
	case r.events <- struct{}{}:
	default:
	}
}

func (r *Receiver) current() (generation uint64, armed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation, r.armed
}

func (r *Receiver) waitArmed(ctx context.Context) (uint64, error) {
	for {
		if gen, armed := r.current(); armed {
			return gen, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.wake:
		}
	}
}
