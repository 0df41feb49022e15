package vospi

import "encoding/binary"

// EncodePacket writes a complete packet for row pid into dst, which must be
// at least PacketSize bytes. seg is placed in the header's segment field and
// is only meaningful on the special packet of a four-segment stream.
// samples shorter than LinePixels are zero padded.
func EncodePacket(dst []byte, pid uint16, seg uint8, samples []uint16) {
	_ = dst[PacketSize-1]
	binary.BigEndian.PutUint16(dst[0:2], uint16(seg&0x7)<<12|pid&0x0FFF)
	for i := 0; i < LinePixels; i++ {
		var v uint16
		if i < len(samples) {
			v = samples[i]
		}
		binary.BigEndian.PutUint16(dst[HeaderSize+2*i:], v)
	}
	binary.BigEndian.PutUint16(dst[2:4], 0)
	binary.BigEndian.PutUint16(dst[2:4], ComputeCRC(dst))
}

// EncodeDiscard writes a discard packet into dst. The payload is left as
// filler; real sensors put telemetry or garbage there.
func EncodeDiscard(dst []byte) {
	_ = dst[PacketSize-1]
	dst[0] = 0x0F
	dst[1] = 0xFF
	dst[2] = 0
	dst[3] = 0
}
