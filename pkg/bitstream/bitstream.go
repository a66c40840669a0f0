// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bitstream drives the bit-period state machine that turns a
// stream of Packets into the DCC track waveform: preamble, start bit,
// data bytes msb-first with byte-stop bits, message-stop bit, and
// (Ops Mode only) the RailCom cutout that follows each packet.
package bitstream

import (
	"fmt"

	"github.com/kazwalker/dccstation/pkg/dcctrace"
	"github.com/kazwalker/dccstation/pkg/dccpkt"
	"github.com/kazwalker/dccstation/pkg/railcom"
)

// byteNum values below zero are sentinels for the non-data phases of one
// packet transmission; byteNum >= 0 indexes into the current packet's
// bytes.
const (
	byteNumCutout   = -2
	byteNumPreamble = -1
)

// cutoutBits is the RailCom cutout duration, in bit-periods.
const cutoutBits = 4

// maxPacketBytes bounds the copy buffers below; it mirrors dccpkt's own
// maximum wire message length, since nothing that package can decode or
// build exceeds it.
const maxPacketBytes = 6

// TrackDriver is the hardware collaborator that actually drives the rail
// signal. A real implementation maps ProgBit/ProgCutout* onto a PWM
// slice's duty cycle; StubDriver just records calls for tests.
type TrackDriver interface {
	// ProgBit programs the waveform for one full-power data/preamble bit
	// (0 or 1).
	ProgBit(bit int)
	// ProgCutoutStart programs the first cutout bit-period: power stays
	// on for one quarter bit-period, then goes off.
	ProgCutoutStart()
	// ProgCutout programs a cutout bit-period with power off throughout.
	ProgCutout()
	// SetEnabled turns track power on or off entirely (Mode OFF).
	SetEnabled(on bool)
}

// StubDriver is a no-hardware TrackDriver for tests and simulation.
type StubDriver struct {
	Enabled bool
	Calls   []string
}

func (d *StubDriver) ProgBit(bit int) {
	if bit == 0 {
		d.Calls = append(d.Calls, "bit0")
	} else {
		d.Calls = append(d.Calls, "bit1")
	}
}

func (d *StubDriver) ProgCutoutStart() { d.Calls = append(d.Calls, "cutout-start") }
func (d *StubDriver) ProgCutout()      { d.Calls = append(d.Calls, "cutout") }
func (d *StubDriver) SetEnabled(on bool) {
	d.Enabled = on
	if on {
		d.Calls = append(d.Calls, "enable")
	} else {
		d.Calls = append(d.Calls, "disable")
	}
}

// RailComSink receives the channel-2 messages recovered from the cutout
// that followed a packet addressed to it. package throttle's Throttle
// satisfies this.
type RailComSink interface {
	ReceiveRailCom(msgs []railcom.Msg)
}

// PacketSource supplies the next packet to transmit and, when that
// packet is addressed to a particular loco, the sink that should receive
// any RailCom response recovered from the following cutout.
type PacketSource interface {
	GetPacket() (pkt *dccpkt.Packet, sink RailComSink)
}

// Bitstream renders one DCC packet transmission at a time, one bit-period
// per Tick call from whatever drives the transmit clock (a hardware timer
// in a real deployment, a time.Ticker-fed goroutine in this simulation).
type Bitstream struct {
	driver TrackDriver
	src    PacketSource
	rc     *railcom.Reader

	preambleBits int
	useRailcom   bool

	byteNum int
	bitNum  int

	// current/next are the double-buffered packet bytes: current is
	// being rendered bit-by-bit while next has already been prefetched
	// (and, on the far side of a promote, is being filled in again)
	// ahead of when it's needed. Each packet's bytes are copied in, not
	// referenced by pointer, so mutating the PacketSource's own cached
	// Packet object (see pkg/throttle) to build the next one can never
	// alias bytes still being transmitted out of current.
	currentBuf [maxPacketBytes]byte
	currentLen int
	currentSink RailComSink

	nextBuf [maxPacketBytes]byte
	nextLen int
	nextSink RailComSink

	running bool

	// trace, if set, receives one diagnostic line per promoted packet and
	// per parsed cutout. Writes go through Ring's lock-free producer side,
	// since Tick runs on the transmit-clock goroutine.
	trace *dcctrace.Ring

	// onBitPeriod is invoked at the end of every Tick. It gives the
	// Service Mode ack-current check a chance to run in step with the
	// transmit clock without this package depending on the scheduler
	// package.
	onBitPeriod func()
}

// SetTrace attaches a diagnostic ring. Passing nil disables tracing.
func (b *Bitstream) SetTrace(r *dcctrace.Ring) {
	b.trace = r
}

func (b *Bitstream) traceLine(format string, args ...any) {
	if b.trace == nil {
		return
	}
	line, ok := b.trace.WriteLineGet()
	if !ok {
		return
	}
	line.Set(fmt.Sprintf(format, args...))
	b.trace.WriteLinePut()
}

// New constructs a Bitstream that pulls packets from src and renders
// them through driver. onBitPeriod may be nil.
func New(driver TrackDriver, src PacketSource, onBitPeriod func()) *Bitstream {
	return &Bitstream{
		driver:      driver,
		src:         src,
		rc:          railcom.NewReader(),
		onBitPeriod: onBitPeriod,
	}
}

// StartOps begins Ops Mode transmission: 14-bit preambles, RailCom
// cutout after every packet.
func (b *Bitstream) StartOps() {
	b.start(dccpkt.OpsPreambleBits, true)
}

// StartSvc begins Service Mode transmission: 20-bit preambles, no
// RailCom cutout.
func (b *Bitstream) StartSvc() {
	b.start(dccpkt.SvcPreambleBits, false)
}

func (b *Bitstream) start(preambleBits int, useRailcom bool) {
	b.preambleBits = preambleBits
	b.useRailcom = useRailcom
	b.byteNum = byteNumPreamble
	b.bitNum = preambleBits
	b.running = true
	b.driver.SetEnabled(true)
	// Prefetch the first packet into the next slot so the first promote,
	// at the end of the opening preamble, is a plain buffer swap rather
	// than a synchronous fetch.
	b.fetchNext()
	// Prime the PWM double buffer: one Tick programs the first bit, the
	// next programs the second.
	b.Tick()
	b.Tick()
}

// fetchNext pulls the next packet to transmit from the PacketSource and
// copies its bytes into the next slot.
func (b *Bitstream) fetchNext() {
	pkt, sink := b.src.GetPacket()
	b.nextLen = copy(b.nextBuf[:], pkt.Bytes())
	b.nextSink = sink
}

// promote swaps the prefetched next slot into current and immediately
// prefetches the packet after it, so current is never touched again
// until the next promote.
func (b *Bitstream) promote() {
	b.currentBuf = b.nextBuf
	b.currentLen = b.nextLen
	b.currentSink = b.nextSink
	b.traceLine("tx len=%d bytes=% x", b.currentLen, b.currentBuf[:b.currentLen])
	b.fetchNext()
}

// Stop halts transmission and de-energizes the track.
func (b *Bitstream) Stop() {
	b.running = false
	b.driver.SetEnabled(false)
}

// Running reports whether the bitstream is currently transmitting.
func (b *Bitstream) Running() bool {
	return b.running
}

// PushRailComByte feeds one raw byte captured during the current cutout
// window into the RailCom reader. With no UART ISR to drive capture,
// the caller (a serial front-end or simulated decoder) supplies bytes as
// they're observed.
func (b *Bitstream) PushRailComByte(raw byte) {
	b.rc.PushByte(raw)
}

// Tick advances the bit-period state machine by one step. Call it once
// per bit-period (2x58us for a 1 bit, 2x100us for a 0 bit). Each Tick
// programs and immediately represents the bit about to go out.
func (b *Bitstream) Tick() {
	switch {
	case b.byteNum == byteNumCutout:
		b.tickCutout()
	case b.byteNum == byteNumPreamble:
		b.tickPreamble()
	default:
		b.tickData()
	}

	if b.onBitPeriod != nil {
		b.onBitPeriod()
	}
}

func (b *Bitstream) tickCutout() {
	switch {
	case b.bitNum == cutoutBits:
		b.driver.ProgCutoutStart()
		b.bitNum--
		b.rc.Reset()
	case b.bitNum > 0:
		b.driver.ProgCutout()
		b.bitNum--
	default:
		// End of cutout: start the next packet's preamble.
		b.driver.ProgBit(1)
		b.byteNum = byteNumPreamble
		b.bitNum = b.preambleBits - 1
	}
}

func (b *Bitstream) tickPreamble() {
	if b.bitNum > 0 {
		b.driver.ProgBit(1)
		if b.bitNum == b.preambleBits-1 && b.useRailcom {
			// The cutout that preceded this preamble has just ended;
			// whatever was captured during it belongs to the packet sent
			// right before this one.
			b.rc.Parse()
			b.traceLine("cutout valid=%v ch2msgs=%d", b.rc.Valid(), len(b.rc.Channel2()))
			if b.rc.Valid() && b.currentSink != nil {
				b.currentSink.ReceiveRailCom(b.rc.Channel2())
			}
		}
		b.bitNum--
		return
	}
	// End of preamble: send the packet start bit and promote the
	// already-prefetched next packet into current.
	b.driver.ProgBit(0)
	b.byteNum = 0
	b.bitNum = 7
	b.promote()
}

func (b *Bitstream) tickData() {
	msg := b.currentBuf[:b.currentLen]
	msgLen := len(msg)

	if b.bitNum == -1 {
		// Byte just finished; send its stop bit.
		if b.byteNum+1 == msgLen {
			// Message-stop bit, then cutout or next preamble.
			b.driver.ProgBit(1)
			if b.useRailcom {
				b.byteNum = byteNumCutout
				b.bitNum = cutoutBits
			} else {
				b.byteNum = byteNumPreamble
				b.bitNum = b.preambleBits - 1
			}
		} else {
			b.driver.ProgBit(0)
			b.byteNum++
			b.bitNum = 7
		}
		return
	}

	bit := int((msg[b.byteNum] >> uint(b.bitNum)) & 1)
	b.driver.ProgBit(bit)
	b.bitNum--
}
