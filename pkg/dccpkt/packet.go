// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dccpkt

import (
	"errors"
	"fmt"
)

// Kind classifies a decoded Packet.
type Kind int

const (
	KindInvalid Kind = iota
	KindReset
	KindSpeed128
	KindFunc0
	KindFunc5
	KindFunc9
	KindFunc13
	KindFunc21
	KindFunc29
	KindFunc37
	KindFunc45
	KindFunc53
	KindFunc61
	KindOpsWriteCV
	KindOpsReadCV
	KindOpsWriteBit
	KindSvcWriteCV
	KindSvcWriteBit
	KindSvcVerifyCV
	KindSvcVerifyBit
	KindAccessory
	KindReserved
	KindAdvanced
	KindIdle
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindReset:
		return "Reset"
	case KindSpeed128:
		return "Speed128"
	case KindFunc0:
		return "Func0"
	case KindFunc5:
		return "Func5"
	case KindFunc9:
		return "Func9"
	case KindFunc13:
		return "Func13"
	case KindFunc21:
		return "Func21"
	case KindFunc29:
		return "Func29"
	case KindFunc37:
		return "Func37"
	case KindFunc45:
		return "Func45"
	case KindFunc53:
		return "Func53"
	case KindFunc61:
		return "Func61"
	case KindOpsWriteCV:
		return "OpsWriteCV"
	case KindOpsReadCV:
		return "OpsReadCV"
	case KindOpsWriteBit:
		return "OpsWriteBit"
	case KindSvcWriteCV:
		return "SvcWriteCV"
	case KindSvcWriteBit:
		return "SvcWriteBit"
	case KindSvcVerifyCV:
		return "SvcVerifyCV"
	case KindSvcVerifyBit:
		return "SvcVerifyBit"
	case KindAccessory:
		return "Accessory"
	case KindReserved:
		return "Reserved"
	case KindAdvanced:
		return "Advanced"
	case KindIdle:
		return "Idle"
	case KindUnimplemented:
		return "Unimplemented"
	default:
		return "Invalid"
	}
}

var (
	ErrMsgTooShort        = errors.New("dccpkt: message too short")
	ErrMsgTooLong         = errors.New("dccpkt: message too long")
	ErrBadChecksum        = errors.New("dccpkt: xor checksum mismatch")
	ErrAddressOutOfRange  = errors.New("dccpkt: address out of range")
	ErrBroadcastNotAllowed = errors.New("dccpkt: broadcast address not allowed for this packet kind")
	ErrCVOutOfRange       = errors.New("dccpkt: CV number out of range")
	ErrSpeedOutOfRange    = errors.New("dccpkt: speed out of range")
	ErrFunctionOutOfRange = errors.New("dccpkt: function number out of range")
)

// Packet is a raw DCC link-layer message: address byte(s), instruction
// byte(s), trailing XOR error-detection byte. It is intentionally a thin
// wrapper over the wire bytes (the same lazy, accessor-driven shape as
// pkg/fusain's Packet) rather than a fully decomposed struct, so that a
// Packet built by the Scheduler round-trips byte-for-byte onto the track.
type Packet struct {
	msg []byte
}

func newPacket(msg []byte) *Packet {
	p := &Packet{msg: make([]byte, len(msg))}
	copy(p.msg, msg)
	setXOR(p.msg)
	return p
}

// Bytes returns the wire bytes, including the trailing XOR byte.
func (p *Packet) Bytes() []byte {
	return p.msg
}

// Len returns the number of bytes, including the trailing XOR byte.
func (p *Packet) Len() int {
	return len(p.msg)
}

func setXOR(msg []byte) {
	n := len(msg)
	if n == 0 {
		return
	}
	var x byte
	for i := 0; i < n-1; i++ {
		x ^= msg[i]
	}
	msg[n-1] = x
}

func checkXOR(msg []byte) bool {
	n := len(msg)
	if n == 0 {
		return false
	}
	var x byte
	for i := 0; i < n-1; i++ {
		x ^= msg[i]
	}
	return x == msg[n-1]
}

// AddressSize returns 1 or 2, the number of bytes the address occupies at
// the start of msg.
func AddressSize(msg []byte) int {
	if len(msg) == 0 {
		return 0
	}
	if msg[0]&0xc0 == 0xc0 {
		return 2
	}
	return 1
}

// Address decodes the loco address from the start of msg.
func Address(msg []byte) (int, error) {
	switch AddressSize(msg) {
	case 1:
		return int(msg[0]), nil
	case 2:
		if len(msg) < 2 {
			return 0, ErrMsgTooShort
		}
		return int(msg[0]&0x3f)<<8 | int(msg[1]), nil
	default:
		return 0, ErrMsgTooShort
	}
}

func encodeAddress(address int) ([]byte, error) {
	if address == AddressBroadcast {
		return []byte{0}, nil
	}
	if address < AddressMin || address > AddressMax {
		return nil, ErrAddressOutOfRange
	}
	if address <= AddressShortMax {
		return []byte{byte(address)}, nil
	}
	return []byte{0xc0 | byte(address>>8&0x3f), byte(address)}, nil
}

// Type classifies the packet's instruction bytes.
func (p *Packet) Type() Kind {
	return decodeType(p.msg)
}

// String renders a short human-readable form of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("%s %x", p.Type(), p.msg)
}
