package vospi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout constants for a single VoSPI packet.
const (
	HeaderSize  = 4
	LinePixels  = 80
	LineSize    = LinePixels * 2
	PacketSize  = HeaderSize + LineSize
	SegmentRows = 60 // packets per segment

	// SpecialPacket is the one packet per segment whose segment field is
	// authoritative on four-segment sensors.
	SpecialPacket = 20

	FirstPacket  = 0
	FirstSegment = 1
	MaxSegment   = 4

	discardMarker = 0x0F
)

// ErrShortPacket is returned when fewer than PacketSize (or HeaderSize)
// bytes are supplied.
var ErrShortPacket = errors.New("vospi: short packet")

// Header is the decoded 4-byte packet header.
type Header struct {
	PacketID  uint16 // 12-bit id, 0-59 for frame rows
	SegmentID uint8  // 3-bit segment number, only set on packet 20
	CRC       uint16
	Discard   bool
}

// ParseHeader decodes the first HeaderSize bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header has %d bytes", ErrShortPacket, len(buf))
	}
	return Header{
		PacketID:  binary.BigEndian.Uint16(buf[0:2]) & 0x0FFF,
		SegmentID: (buf[0] >> 4) & 0x7,
		CRC:       binary.BigEndian.Uint16(buf[2:4]),
		Discard:   buf[0]&0x0F == discardMarker,
	}, nil
}

// Kind is the coarse classification of a packet.
type Kind int

const (
	KindDiscard Kind = iota
	KindNormal
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindDiscard:
		return "discard"
	case KindNormal:
		return "normal"
	case KindSpecial:
		return "special"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Classified is the result of Classify.
type Classified struct {
	Kind      Kind
	PacketID  uint16
	SegmentID uint8
}

// Classify parses the header and sorts the packet into discard, normal or
// special. Special only applies to four-segment frames (packetsPerFrame 240),
// where packet 20 carries the authoritative segment number. A header
// shorter than HeaderSize is reported as a discard.
func Classify(header []byte, packetsPerFrame int) Classified {
	h, err := ParseHeader(header)
	if err != nil || h.Discard {
		return Classified{Kind: KindDiscard}
	}
	c := Classified{Kind: KindNormal, PacketID: h.PacketID, SegmentID: h.SegmentID}
	if packetsPerFrame > SegmentRows && h.PacketID == SpecialPacket {
		c.Kind = KindSpecial
	}
	return c
}

// Payload returns the 160-byte sample area of a full packet.
func Payload(packet []byte) ([]byte, error) {
	if len(packet) < PacketSize {
		return nil, fmt.Errorf("%w: packet has %d bytes", ErrShortPacket, len(packet))
	}
	return packet[HeaderSize:PacketSize], nil
}

// Geometry describes one of the two supported frame layouts.
type Geometry struct {
	Width  int // h_res, samples per row
	Height int // v_res, rows
}

// Predefined geometries for the supported sensors.
var (
	GeometrySingleSegment = Geometry{Width: 80, Height: 60}
	GeometryFourSegment   = Geometry{Width: 160, Height: 120}
)

// GeometryFromROI derives the frame geometry from the inclusive end column
// and end row reported by the sensor's AGC region of interest.
func GeometryFromROI(endCol, endRow uint16) Geometry {
	return Geometry{Width: int(endCol) + 1, Height: int(endRow) + 1}
}

// Valid reports whether the geometry has been established and fits in the
// frame buffer its packet count implies.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0 && g.Width*g.Height <= g.Samples()
}

// PacketsPerFrame is 240 when the sensor reports more than 60 rows,
// otherwise 60.
func (g Geometry) PacketsPerFrame() int {
	if g.Height > SegmentRows {
		return SegmentRows * MaxSegment
	}
	return SegmentRows
}

// Samples is the length of the frame buffer in 16-bit samples.
func (g Geometry) Samples() int {
	return g.PacketsPerFrame() * LinePixels
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}
