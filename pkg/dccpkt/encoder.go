// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dccpkt

// Encode returns the wire bytes for p, including the trailing XOR byte.
// Grounded on pkg/fusain/encoder.go's Encoder.Encode, but since a Packet
// is already a validated set of wire bytes (constructed by one of the
// New* functions or by Decode), Encode here is just an accessor rather
// than a marshaling step.
func Encode(p *Packet) []byte {
	return p.Bytes()
}

// MustEncode is Encode but panics on a nil packet, for call sites (tests,
// command builders) that only ever hold known-good packets. Grounded on
// pkg/fusain/encoder.go's EncodePacket panicking wrapper.
func MustEncode(p *Packet) []byte {
	if p == nil {
		panic("dccpkt: MustEncode called with nil packet")
	}
	return Encode(p)
}
