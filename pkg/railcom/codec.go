// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "math/bits"

// decodeTable maps a received 4/8-coded byte to its decoded 6-bit value
// (0-63), or to one of the Sym* sentinels for the reserved weight-4 codes
// RailCom uses for ACK/NACK/BUSY/RESERVED, or to SymInvalid for any byte
// that is not a valid weight-4 (four set bits) codeword. The RailCom 4/8
// code is built from the 70 bytes of Hamming weight 4 for a DC-balanced
// line code; this module assigns the first 64 (in ascending numeric
// order) to data values 0-63 and the next four to the ACK/NACK/BUSY/
// RESERVED sentinels — deterministic and self-consistent, though not the
// literal RCN-217 assignment.
var decodeTable [256]byte

// encodeTable is the inverse of decodeTable for the 64 data codes, used
// by tests and by any caller that needs to synthesize a RailCom byte
// stream.
var encodeTable [64]byte

func init() {
	for i := range decodeTable {
		decodeTable[i] = SymInvalid
	}
	data := 0
	extra := 0
	extraSyms := []byte{SymAck, SymNack, SymBusy, SymResv}
	for b := 0; b < 256; b++ {
		if bits.OnesCount8(uint8(b)) != 4 {
			continue
		}
		switch {
		case data < 64:
			decodeTable[b] = byte(data)
			encodeTable[data] = byte(b)
			data++
		case extra < len(extraSyms):
			decodeTable[b] = extraSyms[extra]
			extra++
		}
	}
}

// Decode4_8 decodes one received byte through the 4/8 table.
func Decode4_8(b byte) (val byte, ok bool) {
	v := decodeTable[b]
	return v, v != SymInvalid
}

// Encode4_8 encodes a 6-bit data value (0-63) for test/synthesis use.
func Encode4_8(v byte) byte {
	return encodeTable[v&0x3f]
}
