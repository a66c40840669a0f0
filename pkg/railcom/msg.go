// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "fmt"

// MsgID names a parsed channel-2 (or channel-1) RailCom message kind.
type MsgID int

const (
	MsgPOM MsgID = iota
	MsgAHI
	MsgALO
	MsgDYN
	MsgACK
	MsgNAK
	MsgBusy
	MsgExt
	MsgXPOM
)

func (id MsgID) String() string {
	switch id {
	case MsgPOM:
		return "POM"
	case MsgAHI:
		return "AHI"
	case MsgALO:
		return "ALO"
	case MsgDYN:
		return "DYN"
	case MsgACK:
		return "ACK"
	case MsgNAK:
		return "NAK"
	case MsgBusy:
		return "BUSY"
	case MsgExt:
		return "EXT"
	case MsgXPOM:
		return "XPOM"
	default:
		return "UNKNOWN"
	}
}

// Msg is one parsed RailCom message. Only the fields relevant to its ID
// are meaningful (POM.Val, DYN.ID/DYN.Val, EXT.Typ/EXT.Pos, XPOM.SS/
// XPOM.Val); the rest are zero.
type Msg struct {
	ID  MsgID
	POM struct {
		Val byte
	}
	AHI struct {
		Val byte
	}
	ALO struct {
		Val byte
	}
	DYN struct {
		ID  DynID
		Val byte
	}
	EXT struct {
		Typ byte
		Pos byte
	}
	XPOM struct {
		SS  byte
		Val [4]byte
	}
}

func (m Msg) String() string {
	switch m.ID {
	case MsgPOM:
		return fmt.Sprintf("POM val=%d", m.POM.Val)
	case MsgAHI:
		return fmt.Sprintf("AHI val=%d", m.AHI.Val)
	case MsgALO:
		return fmt.Sprintf("ALO val=%d", m.ALO.Val)
	case MsgDYN:
		return fmt.Sprintf("DYN id=%d val=%d", m.DYN.ID, m.DYN.Val)
	case MsgExt:
		return fmt.Sprintf("EXT typ=%d pos=%d", m.EXT.Typ, m.EXT.Pos)
	case MsgXPOM:
		return fmt.Sprintf("XPOM ss=%d val=%v", m.XPOM.SS, m.XPOM.Val)
	default:
		return m.ID.String()
	}
}
