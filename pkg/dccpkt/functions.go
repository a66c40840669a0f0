// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dccpkt

// funcGroup describes one of the ten function groups this module
// supports (F0-F4 through F61-F68).
type funcGroup struct {
	kind    Kind
	instr   byte // fixed instruction byte, or tag for masked groups
	masked  bool // true for F0/F5/F9 (instr = tag|funcs), false for 2-byte groups
	fMin    int
	fMax    int
	bitBase int // which function maps to bit 0 of the data byte
}

var funcGroups = []funcGroup{
	{KindFunc0, funcGroup0Tag, true, 0, 4, 1},   // bit4=F0, bits0-3=F1..F4
	{KindFunc5, funcGroup5Tag, true, 5, 8, 5},
	{KindFunc9, funcGroup9Tag, true, 9, 12, 9},
	{KindFunc13, instrFunc13, false, 13, 20, 13},
	{KindFunc21, instrFunc21, false, 21, 28, 21},
	{KindFunc29, instrFunc29, false, 29, 36, 29},
	{KindFunc37, instrFunc37, false, 37, 44, 37},
	{KindFunc45, instrFunc45, false, 45, 52, 45},
	{KindFunc53, instrFunc53, false, 53, 60, 53},
	{KindFunc61, instrFunc61, false, 61, 68, 61},
}

func groupFor(num int) (*funcGroup, error) {
	if num < FunctionMin || num > FunctionMax {
		return nil, ErrFunctionOutOfRange
	}
	for i := range funcGroups {
		g := &funcGroups[i]
		if num >= g.fMin && num <= g.fMax {
			return g, nil
		}
	}
	return nil, ErrFunctionOutOfRange
}

func funcsToByte(g *funcGroup, on []int) byte {
	var b byte
	for _, n := range on {
		if n < g.fMin || n > g.fMax {
			continue
		}
		if g.kind == KindFunc0 {
			// F0 lives in bit4; F1..F4 in bits0-3.
			if n == 0 {
				b |= 1 << 4
			} else {
				b |= 1 << uint(n-1)
			}
			continue
		}
		b |= 1 << uint(n-g.bitBase)
	}
	return b
}

// NewFunctionGroup builds the packet for whichever function group `num`
// falls in, with `on` naming the function numbers that should be set (all
// others in the group are cleared).
func NewFunctionGroup(address, num int, on []int) (*Packet, error) {
	g, err := groupFor(num)
	if err != nil {
		return nil, err
	}
	addrBytes, err := encodeAddress(address)
	if err != nil {
		return nil, err
	}
	if address == AddressBroadcast {
		return nil, ErrBroadcastNotAllowed
	}

	funcs := funcsToByte(g, on)
	var msg []byte
	if g.masked {
		msg = append(addrBytes, g.instr|funcs, 0)
	} else {
		msg = append(addrBytes, g.instr, funcs, 0)
	}
	return newPacket(msg), nil
}

// SetFunctionBits overwrites a cached function-group packet's data byte
// in place for the group containing num (on naming which functions in
// that group are commanded on) and recomputes the checksum, without
// reallocating the backing buffer. p must already be the packet for that
// group, as built by NewFunctionGroup for the same num's group.
func (p *Packet) SetFunctionBits(num int, on []int) error {
	g, err := groupFor(num)
	if err != nil {
		return err
	}
	asz := AddressSize(p.msg)
	funcs := funcsToByte(g, on)
	if g.masked {
		p.msg[asz] = g.instr | funcs
	} else {
		p.msg[asz+1] = funcs
	}
	setXOR(p.msg)
	return nil
}

// GetFunction reports whether function `num` is set in p, given p is one
// of the function-group kinds covering that number.
func (p *Packet) GetFunction(num int) (bool, error) {
	g, err := groupFor(num)
	if err != nil {
		return false, err
	}
	if p.Type() != g.kind {
		return false, ErrFunctionOutOfRange
	}
	asz := AddressSize(p.msg)
	var funcs byte
	if g.masked {
		funcs = p.msg[asz] &^ funcGroup0Mask
	} else {
		funcs = p.msg[asz+1]
	}
	if g.kind == KindFunc0 {
		if num == 0 {
			return funcs&(1<<4) != 0, nil
		}
		return funcs&(1<<uint(num-1)) != 0, nil
	}
	return funcs&(1<<uint(num-g.bitBase)) != 0, nil
}
