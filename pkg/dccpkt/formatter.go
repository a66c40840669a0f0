// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dccpkt

import (
	"fmt"
	"strings"
)

// Format renders a packet the way an operator console or capture log
// would display it, grounded on pkg/fusain's FormatPacket/FormatPayloadMap
// switch-per-type style.
func Format(p *Packet) string {
	var b strings.Builder
	asz := AddressSize(p.msg)
	addr, _ := Address(p.msg)

	switch k := p.Type(); k {
	case KindReset:
		b.WriteString("RESET")
	case KindIdle:
		b.WriteString("IDLE")
	case KindSpeed128:
		speed, _ := p.Speed128()
		dir := "fwd"
		if speed < 0 {
			dir = "rev"
		}
		fmt.Fprintf(&b, "addr=%d SPEED128 speed=%d %s", addr, abs(speed), dir)
	case KindFunc0, KindFunc5, KindFunc9, KindFunc13, KindFunc21,
		KindFunc29, KindFunc37, KindFunc45, KindFunc53, KindFunc61:
		g := groupByKind(k)
		fmt.Fprintf(&b, "addr=%d %s f%d-%d=", addr, k, g.fMin, g.fMax)
		for n := g.fMin; n <= g.fMax; n++ {
			on, _ := p.GetFunction(n)
			if on {
				b.WriteString("1")
			} else {
				b.WriteString("0")
			}
		}
	case KindOpsWriteCV:
		cv, _ := p.CVNum()
		fmt.Fprintf(&b, "addr=%d OPS_WRITE_CV cv=%d val=%d", addr, cv, p.msg[asz+2])
	case KindOpsWriteBit:
		cv, _ := p.CVNum()
		bb := p.msg[asz+2]
		fmt.Fprintf(&b, "addr=%d OPS_WRITE_BIT cv=%d bit=%d val=%d", addr, cv, bb&0x07, (bb>>3)&1)
	case KindSvcWriteCV, KindSvcVerifyCV:
		fmt.Fprintf(&b, "%s cv=%d val=%d", k, svcCVNum(p.msg), p.msg[2])
	case KindSvcWriteBit, KindSvcVerifyBit:
		bb := p.msg[2]
		fmt.Fprintf(&b, "%s cv=%d bit=%d val=%d", k, svcCVNum(p.msg), bb&0x07, (bb>>3)&1)
	case KindAccessory:
		fmt.Fprintf(&b, "ACCESSORY %x", p.msg)
	default:
		fmt.Fprintf(&b, "%s %x", k, p.msg)
	}
	return b.String()
}

func svcCVNum(msg []byte) int {
	hi := int(msg[0] & 0x03)
	lo := int(msg[1])
	return (hi<<8 | lo) + 1
}

func groupByKind(k Kind) *funcGroup {
	for i := range funcGroups {
		if funcGroups[i].kind == k {
			return &funcGroups[i]
		}
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
