// Package vospi owns the packet layer of the thermal capture pipeline.
//
// Responsibilities: parsing and classifying 164-byte VoSPI packets,
// reassembling them into complete frames, keeping continuous reception
// running on the link, and the timed bus-quiet resynchronisation that is
// the protocol's only recovery primitive.
// Key types: Header, Assembler, Receiver, Synchronizer.
//
// The receiver goroutine plays the role of the per-packet interrupt: it
// calls Assembler.OnPacket synchronously and must never block. Everything
// else (the capture orchestrator, the decoder) runs in the caller's context
// and only reads the frame buffer after observing StateComplete.
package vospi
