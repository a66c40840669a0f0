// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "errors"

// ErrTruncated is returned by Parse when at least one byte but fewer than
// a full cutout window (Ch1Bytes+Ch2Bytes) were received; an empty
// cutout returns nil instead. This is an expected, common
// outcome (most cutouts carry a partial or empty response), not treated
// as fatal by any caller.
var ErrTruncated = errors.New("railcom: truncated cutout")

// Reader collects the raw bytes received during one RailCom cutout
// window and parses them into channel 1 and channel 2 messages. A junk
// byte that fails the 4/8 table never aborts parsing — it marks the
// window invalid and parsing continues with the rest.
type Reader struct {
	raw   []byte
	valid bool

	ch1ahi byte
	ch1alo byte
	ch1ok  bool

	ch2 []Msg
}

// NewReader constructs an empty Reader.
func NewReader() *Reader {
	r := &Reader{}
	r.Reset()
	return r
}

// Reset clears the collected bytes and any parsed messages. Called at
// the start of every cutout window.
func (r *Reader) Reset() {
	r.raw = r.raw[:0]
	r.valid = true
	r.ch1ahi = 0
	r.ch1alo = 0
	r.ch1ok = false
	r.ch2 = r.ch2[:0]
}

// PushByte records one raw byte received during the current cutout.
// Extra bytes beyond Ch1Bytes+Ch2Bytes are silently dropped (a decoder
// that talks too long is a line-level fault, not something Parse should
// panic over).
func (r *Reader) PushByte(b byte) {
	if len(r.raw) >= Ch1Bytes+Ch2Bytes {
		return
	}
	r.raw = append(r.raw, b)
}

// Len reports how many raw bytes have been pushed since the last Reset.
func (r *Reader) Len() int {
	return len(r.raw)
}

// Parse decodes the collected raw bytes into channel 1 / channel 2
// messages. It never panics on truncated or garbage input; a byte that
// fails the 4/8 table is treated as junk (the window is marked invalid
// but parsing continues with the rest).
func (r *Reader) Parse() error {
	r.valid = true
	r.ch1ahi = 0
	r.ch1alo = 0
	r.ch1ok = false
	r.ch2 = r.ch2[:0]

	if len(r.raw) == 0 {
		return nil
	}

	dec := make([]byte, len(r.raw))
	for i, b := range r.raw {
		v, ok := Decode4_8(b)
		if !ok {
			r.valid = false
			v = 0
		}
		dec[i] = v
	}

	n1 := Ch1Bytes
	if n1 > len(dec) {
		n1 = len(dec)
	}
	r.parseChannel1(dec[:n1])

	ch2dec := dec[n1:]
	i := 0
	for i < len(ch2dec) {
		v := ch2dec[i]
		switch v {
		case SymAck:
			r.ch2 = append(r.ch2, Msg{ID: MsgACK})
			i++
		case SymNack:
			r.ch2 = append(r.ch2, Msg{ID: MsgNAK})
			i++
		case SymBusy:
			r.ch2 = append(r.ch2, Msg{ID: MsgBusy})
			i++
		case SymResv:
			r.ch2 = append(r.ch2, Msg{ID: MsgExt})
			i++
		default:
			n := r.decodeCh2Data(ch2dec[i:])
			if n == 0 {
				r.valid = false
				i++
				continue
			}
			i += n
		}
	}

	if len(r.raw) < Ch1Bytes+Ch2Bytes {
		return ErrTruncated
	}
	return nil
}

// parseChannel1 classifies the two channel-1 decoded bytes as an AHI or
// ALO address-recovery message. Anything else (too few bytes, an
// unrecognized pkt-id) leaves ch1ok false.
func (r *Reader) parseChannel1(d []byte) {
	if len(d) < Ch1Bytes {
		return
	}
	b0, b1 := d[0], d[1]
	pktID := (b0 >> 2) & 0x0f
	hi := b0 & 0x03
	val := hi<<6 | b1
	switch pktID {
	case IDAHI:
		r.ch1ahi = val
		r.ch1ok = true
	case IDALO:
		r.ch1alo = val
		r.ch1ok = true
	}
}

// decodeCh2Data classifies and decodes one channel-2 data message
// starting at d[0], appending it to r.ch2. It returns the number of
// decoded bytes the message consumed (2 for POM/AHI/ALO, 3 for EXT/DYN,
// 6 for XPOM), or 0 if d is too short for the pkt-id it starts with.
func (r *Reader) decodeCh2Data(d []byte) int {
	b0 := d[0]
	pktID := int(b0 >> 2)
	hi := b0 & 0x03

	switch {
	case pktID == IDPOM || pktID == IDAHI || pktID == IDALO:
		if len(d) < 2 {
			return 0
		}
		val := hi<<6 | d[1]
		m := Msg{}
		switch pktID {
		case IDPOM:
			m.ID = MsgPOM
			m.POM.Val = val
		case IDAHI:
			m.ID = MsgAHI
			m.AHI.Val = val
		case IDALO:
			m.ID = MsgALO
			m.ALO.Val = val
		}
		r.ch2 = append(r.ch2, m)
		return 2

	case pktID == IDEXT:
		if len(d) < 3 {
			return 0
		}
		b1, b2 := d[1], d[2]
		m := Msg{ID: MsgExt}
		m.EXT.Typ = (hi<<4)&0x30 | (b1>>2)&0x0f
		m.EXT.Pos = (b1<<6)&0xc0 | b2
		r.ch2 = append(r.ch2, m)
		return 3

	case pktID == IDDYN:
		if len(d) < 3 {
			return 0
		}
		b1, b2 := d[1], d[2]
		m := Msg{ID: MsgDYN}
		m.DYN.Val = hi<<6 | b1
		m.DYN.ID = DynID(b2)
		r.ch2 = append(r.ch2, m)
		return 3

	case pktID&^0x03 == IDXPOM:
		if len(d) < 6 {
			return 0
		}
		b1, b2, b3, b4, b5 := d[1], d[2], d[3], d[4], d[5]
		m := Msg{ID: MsgXPOM}
		m.XPOM.SS = byte(pktID) & 0x03
		m.XPOM.Val[0] = hi<<6 | b1
		m.XPOM.Val[1] = (b2 << 2) | (b3 >> 4)
		m.XPOM.Val[2] = (b3 << 4) | (b4 >> 2)
		m.XPOM.Val[3] = (b4 << 6) | b5
		r.ch2 = append(r.ch2, m)
		return 6

	default:
		return 0
	}
}

// Valid reports whether every received byte decoded as a legal 4/8 code.
func (r *Reader) Valid() bool {
	return r.valid
}

// Channel1 returns the address-recovery value decoded from channel 1
// (in whichever of ahi/alo the pkt-id classified it as) and whether a
// legitimate AHI or ALO message was recovered at all.
func (r *Reader) Channel1() (ahi, alo byte, ok bool) {
	return r.ch1ahi, r.ch1alo, r.ch1ok
}

// Channel2 returns the parsed channel-2 messages.
func (r *Reader) Channel2() []Msg {
	return r.ch2
}
