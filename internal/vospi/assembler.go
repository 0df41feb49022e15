package vospi

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// State is the assembler's position in the frame state machine.
type State int

const (
	// StateHunting waits for packet 0 of segment 1.
	StateHunting State = iota
	// StateFilling has copied at least one row of the current frame.
	StateFilling
	// StateComplete holds a full frame until the consumer restarts capture.
	StateComplete
	// StateResyncing drops everything until the synchronizer runs.
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateHunting:
		return "hunting"
	case StateFilling:
		return "filling"
	case StateComplete:
		return "complete"
	case StateResyncing:
		return "resyncing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SyncState is the positional alignment with the sensor's own counters.
type SyncState struct {
	Resyncing         bool
	ExpectedPacketID  int // [0, packets per frame]; equal to packets per frame when complete
	ExpectedSegmentID int // [1, 4]; only meaningful for four-segment frames
}

// Result describes what OnPacket did with a packet.
type Result int

const (
	ResultCopied   Result = iota // payload stored, frame still filling
	ResultComplete               // payload stored and the frame is now complete
	ResultDiscard                // discard packet, nothing changed
	ResultIgnored                // frame already complete or packet malformed
	ResultDropped                // resync pending, packet not inspected
	ResultHunting                // not at a frame boundary yet, counters held at start
	ResultSyncLost               // alignment lost, resync now pending
	ResultCRCError               // checksum verification failed, packet dropped
)

func (r Result) String() string {
	switch r {
	case ResultCopied:
		return "copied"
	case ResultComplete:
		return "complete"
	case ResultDiscard:
		return "discard"
	case ResultIgnored:
		return "ignored"
	case ResultDropped:
		return "dropped"
	case ResultHunting:
		return "hunting"
	case ResultSyncLost:
		return "sync-lost"
	case ResultCRCError:
		return "crc-error"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// AssemblerStats are cumulative packet counters since the assembler was
// created or its geometry last changed.
type AssemblerStats struct {
	Packets    uint64 `json:"packets"`
	Copied     uint64 `json:"copied"`
	Discards   uint64 `json:"discards"`
	Dropped    uint64 `json:"dropped"`
	Ignored    uint64 `json:"ignored"`
	SyncLosses uint64 `json:"sync_losses"`
	CRCErrors  uint64 `json:"crc_errors"`
	Frames     uint64 `json:"frames"`
}

// AssemblerConfig contains configuration for the Assembler.
type AssemblerConfig struct {
	Geometry  Geometry // frame layout; zero until the sensor has been reset
	VerifyCRC bool     // drop packets whose checksum does not match
}

// Frame is a read-only view of a completed frame buffer. Raw is the
// concatenation of packet payloads in row order and is only valid until the
// next call to Assembler.Restart.
type Frame struct {
	Geometry Geometry
	Raw      []byte
}

// Len is the number of 16-bit words in the frame.
func (f Frame) Len() int {
	return len(f.Raw) / 2
}

// Sample returns word i the way the buffer lies in little-endian host
// memory after a straight payload copy. With AGC enabled the sensor's
// 8-bit output ends up in the high byte.
func (f Frame) Sample(i int) uint16 {
	return binary.LittleEndian.Uint16(f.Raw[2*i:])
}

// Value returns word i as the sensor sent it (big-endian, up to 14 bits).
func (f Frame) Value(i int) uint16 {
	return binary.BigEndian.Uint16(f.Raw[2*i:])
}

// Clone returns a frame backed by its own copy of the buffer.
func (f Frame) Clone() Frame {
	return Frame{Geometry: f.Geometry, Raw: append([]byte(nil), f.Raw...)}
}

// Assembler copies valid packet payloads into the frame buffer while
// tracking alignment with the sensor's packet and segment counters.
//
// OnPacket is the producer side and is called from the receiver goroutine.
// The critical section is a bounded 160-byte copy so the producer never
// blocks for long. The consumer only reads Frame after State reports
// StateComplete, and the producer never writes while complete.
type Assembler struct {
	mu        sync.Mutex
	geometry  Geometry
	packets   int // packets per frame: 60 or 240
	verifyCRC bool
	crcRun    int // consecutive checksum failures
	sync      SyncState
	buf       []byte
	stats     AssemblerStats
}

// NewAssembler creates an Assembler. A new assembler always starts with a
// resync pending so the first capture begins with a quiet period.
func NewAssembler(config AssemblerConfig) *Assembler {
	a := &Assembler{verifyCRC: config.VerifyCRC}
	a.setGeometryLocked(config.Geometry)
	return a
}

// SetGeometry replaces the frame layout (after a sensor reset), reallocates
// the frame buffer and flags a resync.
func (a *Assembler) SetGeometry(g Geometry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setGeometryLocked(g)
}

func (a *Assembler) setGeometryLocked(g Geometry) {
	a.geometry = g
	a.packets = 0
	a.buf = nil
	if g.Valid() {
		a.packets = g.PacketsPerFrame()
		a.buf = make([]byte, a.packets*LineSize)
	}
	a.stats = AssemblerStats{}
	a.sync = SyncState{
		Resyncing:         true,
		ExpectedPacketID:  FirstPacket,
		ExpectedSegmentID: FirstSegment,
	}
}

// Geometry returns the current frame layout.
func (a *Assembler) Geometry() Geometry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.geometry
}

// PacketsPerFrame returns 60, 240, or 0 before a geometry is set.
func (a *Assembler) PacketsPerFrame() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.packets
}

// Resyncing reports whether a resync is pending. The receiver checks this
// before handing over a packet.
func (a *Assembler) Resyncing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sync.Resyncing
}

// RequestResync flags a resync without a detected loss, e.g. after a sensor
// reset or from an operator.
func (a *Assembler) RequestResync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sync.Resyncing = true
}

// SyncState returns a snapshot of the alignment counters.
func (a *Assembler) SyncState() SyncState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sync
}

// State derives the state machine position from the counters.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Assembler) stateLocked() State {
	switch {
	case a.sync.Resyncing:
		return StateResyncing
	case a.packets > 0 && a.sync.ExpectedPacketID >= a.packets:
		return StateComplete
	case a.sync.ExpectedPacketID == FirstPacket:
		return StateHunting
	default:
		return StateFilling
	}
}

// Stats returns a copy of the packet counters.
func (a *Assembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Restart moves the counters back to the first packet of the first segment
// so a new frame can be collected. It leaves a pending resync in place.
// Callers must be done with any Frame obtained before.
func (a *Assembler) Restart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sync.ExpectedPacketID = FirstPacket
	a.sync.ExpectedSegmentID = FirstSegment
}

// ResetSync clears a pending resync and restarts the counters. Only the
// synchronizer calls this, once the link has been quiet long enough.
func (a *Assembler) ResetSync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crcRun = 0
	a.sync = SyncState{
		Resyncing:         false,
		ExpectedPacketID:  FirstPacket,
		ExpectedSegmentID: FirstSegment,
	}
}

// Frame returns the completed frame. ok is false unless the state is
// StateComplete.
func (a *Assembler) Frame() (frame Frame, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stateLocked() != StateComplete {
		return Frame{}, false
	}
	return Frame{Geometry: a.geometry, Raw: a.buf}, true
}

// OnPacket runs one transition of the frame state machine for a full
// PacketSize packet.
func (a *Assembler) OnPacket(packet []byte) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Packets++

	if a.sync.Resyncing {
		a.stats.Dropped++
		return ResultDropped
	}
	if a.packets == 0 || len(packet) < PacketSize || a.sync.ExpectedPacketID >= a.packets {
		a.stats.Ignored++
		return ResultIgnored
	}

	c := Classify(packet, a.packets)
	if c.Kind == KindDiscard {
		a.stats.Discards++
		return ResultDiscard
	}
	if a.verifyCRC && !VerifyCRC(packet) {
		a.stats.CRCErrors++
		a.crcRun++
		tracef("crc mismatch on packet id:%d", c.PacketID)
		if a.crcRun >= SegmentRows {
			// a segment's worth of bad checksums means the byte stream is
			// no longer aligned to packet boundaries
			a.crcRun = 0
			a.sync.Resyncing = true
			a.stats.SyncLosses++
			opsf("lost sync, %d consecutive crc errors", SegmentRows)
			return ResultSyncLost
		}
		return ResultCRCError
	}
	a.crcRun = 0

	expected := a.sync.ExpectedPacketID
	if int(c.PacketID) != expected%SegmentRows {
		if expected == FirstPacket {
			// not at a frame boundary yet
			a.sync.ExpectedPacketID = FirstPacket
			a.sync.ExpectedSegmentID = FirstSegment
			return ResultHunting
		}
		a.sync.Resyncing = true
		a.stats.SyncLosses++
		opsf("lost sync, packet id:%d expected id:%d", c.PacketID, expected)
		return ResultSyncLost
	}

	if c.Kind == KindSpecial && int(c.SegmentID) != a.sync.ExpectedSegmentID {
		if a.sync.ExpectedSegmentID == FirstSegment {
			a.sync.ExpectedPacketID = FirstPacket
			a.sync.ExpectedSegmentID = FirstSegment
			return ResultHunting
		}
		a.sync.Resyncing = true
		a.stats.SyncLosses++
		opsf("lost sync, segment id:%d expected id:%d", c.SegmentID, a.sync.ExpectedSegmentID)
		return ResultSyncLost
	}

	copy(a.buf[expected*LineSize:(expected+1)*LineSize], packet[HeaderSize:PacketSize])
	a.stats.Copied++
	a.sync.ExpectedPacketID++
	if a.sync.ExpectedPacketID%SegmentRows == 0 {
		a.sync.ExpectedSegmentID++
	}
	if a.sync.ExpectedPacketID == a.packets {
		a.stats.Frames++
		diagf("frame complete: %d packets, geometry %s", a.packets, a.geometry)
		return ResultComplete
	}
	return ResultCopied
}
