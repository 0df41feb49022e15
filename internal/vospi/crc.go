package vospi

import "encoding/binary"

// CRC-16-CCITT as used by VoSPI: x^16 + x^12 + x^5 + 1, zero seed.
const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000
)

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// ComputeCRC returns the checksum of a full packet. The sensor computes it
// with the top nibble of the id word and the CRC field itself zeroed, so
// those bytes are masked here without touching packet.
func ComputeCRC(packet []byte) uint16 {
	if len(packet) < PacketSize {
		return 0
	}
	crc := uint16(crcInitial)
	for i, b := range packet[:PacketSize] {
		switch i {
		case 0:
			b &= 0x0F
		case 2, 3:
			b = 0
		}
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// VerifyCRC reports whether the checksum field matches the packet contents.
// Discard packets are never verified and always report true.
func VerifyCRC(packet []byte) bool {
	if len(packet) < PacketSize {
		return false
	}
	if packet[0]&0x0F == discardMarker {
		return true
	}
	return binary.BigEndian.Uint16(packet[2:4]) == ComputeCRC(packet)
}
