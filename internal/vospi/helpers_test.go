package vospi

// rowPacket builds a normal packet for row pid whose samples all encode
// (row index, column) so copies can be checked byte for byte.
func rowPacket(pid int, seg uint8) []byte {
	buf := make([]byte, PacketSize)
	samples := make([]uint16, LinePixels)
	for i := range samples {
		samples[i] = uint16(pid)<<8 | uint16(i)
	}
	EncodePacket(buf, uint16(pid%SegmentRows), seg, samples)
	return buf
}

func discardPacket() []byte {
	buf := make([]byte, PacketSize)
	EncodeDiscard(buf)
	return buf
}

// framePackets returns the packets of one whole frame in wire order. The
// segment field is only set on packet 20 when packets is 240, as on the
// sensor.
func framePackets(packets int) [][]byte {
	out := make([][]byte, 0, packets)
	for i := 0; i < packets; i++ {
		var seg uint8
		if packets > SegmentRows && i%SegmentRows == SpecialPacket {
			seg = uint8(i/SegmentRows + 1)
		}
		out = append(out, rowPacket(i, seg))
	}
	return out
}

func newSyncedAssembler(g Geometry) *Assembler {
	a := NewAssembler(AssemblerConfig{Geometry: g})
	a.ResetSync()
	return a
}
