// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package throttle implements per-locomotive packet rotation: interleaved
// speed/function packets, ops-mode CV read/write/write-bit insertion, and
// RailCom return-channel correlation.
package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kazwalker/dccstation/pkg/dcctrace"
	"github.com/kazwalker/dccstation/pkg/dccpkt"
	"github.com/kazwalker/dccstation/pkg/railcom"
)

// seqMax is one rotation cycle: one slot per (speed, function-group)
// pair, covering F0 through F61-68.
const seqMax = 20

// readCVSendCnt/writeCVSendCnt/writeBitSendCnt are the repeat counts for
// each ops-mode CV operation's packets before giving up or concluding.
const (
	readCVSendCnt   = 8
	writeCVSendCnt  = 5
	writeBitSendCnt = 5
)

// ErrOpPending is returned by ReadCV/WriteCV/WriteBit when another
// ops-mode CV operation is already outstanding on this throttle.
var ErrOpPending = errors.New("throttle: an ops-mode CV operation is already pending")

type pendingOp int

const (
	opNone pendingOp = iota
	opReadCV
	opWriteCV
	opWriteBit
)

// Throttle holds the rotation state and pending CV operations for one
// locomotive address. All exported methods lock mu, since a throttle is
// shared between the goroutine driving the transmit clock (NextPacket,
// ReceiveRailCom) and whatever goroutine handles operator commands
// (console REPL, HTTP API).
type Throttle struct {
	mu sync.Mutex

	address int
	speed   int

	// funcOn[n] is the last commanded state of function n.
	funcOn map[int]bool

	seq int

	pending     pendingOp
	pendingCnt  int
	readCVNum   int
	writeCVNum  int
	writeCVVal  byte
	writeBitCV  int
	writeBitNum int
	writeBitVal bool

	opDone   bool
	opStatus bool
	opVal    byte

	lastSpeedReport   byte
	lastSpeedReportAt time.Time
	haveSpeedReport   bool

	// speedPkt/groupPkts are preallocated once per address and mutated in
	// place on every rotation rather than reallocated, so the steady-state
	// NextPacket path never allocates a new Packet.
	speedPkt  *dccpkt.Packet
	groupPkts []*dccpkt.Packet

	// trace, if set, receives one diagnostic line per RailCom delivery.
	trace *dcctrace.Ring
}

// SetTrace attaches a diagnostic ring. Passing nil disables tracing.
func (t *Throttle) SetTrace(r *dcctrace.Ring) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trace = r
}

func (t *Throttle) traceLine(format string, args ...any) {
	if t.trace == nil {
		return
	}
	line, ok := t.trace.WriteLineGet()
	if !ok {
		return
	}
	line.Set(fmt.Sprintf(format, args...))
	t.trace.WriteLinePut()
}

// New constructs a Throttle for the given address (1..10239).
func New(address int) (*Throttle, error) {
	if address < dccpkt.AddressMin || address > dccpkt.AddressMax {
		return nil, dccpkt.ErrAddressOutOfRange
	}
	t := &Throttle{
		address: address,
		funcOn:  make(map[int]bool),
	}
	if err := t.rebuildPackets(); err != nil {
		return nil, err
	}
	return t, nil
}

// rebuildPackets (re)allocates the cached speed and function-group
// packets for the throttle's current address. Called once from New and
// again from SetAddress, never from the rotation hot path.
func (t *Throttle) rebuildPackets() error {
	speedPkt, err := dccpkt.NewSpeed128(t.address, 0)
	if err != nil {
		return err
	}
	t.speedPkt = speedPkt

	groupPkts := make([]*dccpkt.Packet, len(groupBounds))
	for i, b := range groupBounds {
		p, err := dccpkt.NewFunctionGroup(t.address, b.fMin, nil)
		if err != nil {
			return err
		}
		groupPkts[i] = p
	}
	t.groupPkts = groupPkts
	return nil
}

// Address returns the throttle's loco address.
func (t *Throttle) Address() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// SetAddress reassigns the throttle to a new loco address, rebuilds its
// cached packets for that address, and restarts its rotation cursor.
func (t *Throttle) SetAddress(address int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if address < dccpkt.AddressMin || address > dccpkt.AddressMax {
		return dccpkt.ErrAddressOutOfRange
	}
	t.address = address
	t.seq = 0
	return t.rebuildPackets()
}

// Speed returns the last commanded speed.
func (t *Throttle) Speed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// SetSpeed commands a new speed/direction and rewinds the rotation
// cursor to the nearest speed slot so the change goes out on the next
// packet rather than waiting for a full lap.
func (t *Throttle) SetSpeed(speed int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if speed < dccpkt.SpeedMin || speed > dccpkt.SpeedMax {
		return dccpkt.ErrSpeedOutOfRange
	}
	t.speed = speed
	t.seq &^= 1
	return nil
}

// Function reports the last commanded state of function num.
func (t *Throttle) Function(num int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.funcOn[num]
}

// Functions returns a copy of the functions currently commanded on,
// keyed by function number. Used by snapshot export.
func (t *Throttle) Functions() map[int]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	on := make(map[int]bool, len(t.funcOn))
	for n, v := range t.funcOn {
		if v {
			on[n] = true
		}
	}
	return on
}

// SetFunction commands function num on/off and jumps the rotation cursor
// directly to that group's slot so the change goes out on the next
// packet.
func (t *Throttle) SetFunction(num int, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if num < dccpkt.FunctionMin || num > dccpkt.FunctionMax {
		return dccpkt.ErrFunctionOutOfRange
	}
	t.funcOn[num] = on
	if seq, ok := groupSeqFor(num); ok {
		t.seq = seq
	}
	return nil
}

// groupBounds lists each function group's rotation slot and the
// function-number range it covers.
var groupBounds = []struct{ seq, fMin, fMax int }{
	{1, 0, 4}, {3, 5, 8}, {5, 9, 12}, {7, 13, 20}, {9, 21, 28},
	{11, 29, 36}, {13, 37, 44}, {15, 45, 52}, {17, 53, 60}, {19, 61, 68},
}

func groupSeqFor(num int) (int, bool) {
	for _, b := range groupBounds {
		if num >= b.fMin && num <= b.fMax {
			return b.seq, true
		}
	}
	return 0, false
}

func (t *Throttle) functionsOn(fMin, fMax int) []int {
	var on []int
	for n := fMin; n <= fMax; n++ {
		if t.funcOn[n] {
			on = append(on, n)
		}
	}
	return on
}

// ReadCV arms a pending ops-mode CV read, which requires a RailCom POM
// response to complete.
func (t *Throttle) ReadCV(cvNum int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != opNone {
		return ErrOpPending
	}
	t.pending = opReadCV
	t.readCVNum = cvNum
	// One extra slot beyond the repeat count: reaching zero with no
	// RailCom response is itself the timeout/failure outcome.
	t.pendingCnt = readCVSendCnt + 1
	t.opDone = false
	t.opStatus = false
	return nil
}

// WriteCV arms a pending ops-mode CV write.
func (t *Throttle) WriteCV(cvNum int, val byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != opNone {
		return ErrOpPending
	}
	t.pending = opWriteCV
	t.writeCVNum = cvNum
	t.writeCVVal = val
	t.pendingCnt = writeCVSendCnt
	t.opDone = false
	t.opStatus = false
	return nil
}

// WriteBit arms a pending ops-mode CV bit write.
func (t *Throttle) WriteBit(cvNum, bitNum int, val bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != opNone {
		return ErrOpPending
	}
	t.pending = opWriteBit
	t.writeBitCV = cvNum
	t.writeBitNum = bitNum
	t.writeBitVal = val
	t.pendingCnt = writeBitSendCnt
	t.opDone = false
	t.opStatus = false
	return nil
}

// Done polls a completed ops-mode CV operation.
func (t *Throttle) Done() (done, status bool, value byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opDone {
		return false, false, 0
	}
	return true, t.opStatus, t.opVal
}

// NextPacket returns the next packet in this throttle's rotation: a
// pending CV operation takes priority (read, then write, then
// write-bit), then the speed/function round-robin. The speed and
// function-group packets are cached at construction and mutated in
// place here; only the (rare, not-every-tick) CV operations allocate a
// fresh packet.
func (t *Throttle) NextPacket() (*dccpkt.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.pending {
	case opReadCV:
		t.pendingCnt--
		if t.pendingCnt == 0 {
			// No RailCom response arrived: CV read requires an ack, so
			// running out is itself the failure outcome.
			t.pending = opNone
			t.opDone = true
			t.opStatus = false
			t.opVal = 0
			break
		}
		return dccpkt.NewOpsReadCV(t.address, t.readCVNum)
	case opWriteCV:
		t.pendingCnt--
		p, err := dccpkt.NewOpsWriteCV(t.address, t.writeCVNum, t.writeCVVal)
		if t.pendingCnt == 0 {
			// Out of repeats with no RailCom POM: the write concludes
			// as a best-effort success.
			t.pending = opNone
			t.opDone = true
			t.opStatus = true
		}
		return p, err
	case opWriteBit:
		t.pendingCnt--
		p, err := dccpkt.NewOpsWriteBit(t.address, t.writeBitCV, t.writeBitNum, t.writeBitVal)
		if t.pendingCnt == 0 {
			t.pending = opNone
			t.opDone = true
			t.opStatus = true
		}
		return p, err
	}

	seq := t.seq
	t.seq++
	if t.seq >= seqMax {
		t.seq = 0
	}

	if seq&1 == 0 {
		if err := t.speedPkt.SetSpeedValue(t.speed); err != nil {
			return nil, err
		}
		return t.speedPkt, nil
	}
	for i, b := range groupBounds {
		if b.seq == seq {
			p := t.groupPkts[i]
			if err := p.SetFunctionBits(b.fMin, t.functionsOn(b.fMin, b.fMax)); err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	if err := t.speedPkt.SetSpeedValue(t.speed); err != nil {
		return nil, err
	}
	return t.speedPkt, nil
}

// ReceiveRailCom delivers the channel-2 messages parsed from the cutout
// that followed a packet sent to this throttle. A POM message completes
// whichever ops-mode CV operation is outstanding; a DYN message carrying
// DynSpeed1 updates the throttle's last self-reported speed for
// observability only.
func (t *Throttle) ReceiveRailCom(msgs []railcom.Msg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.traceLine("addr=%d railcom msgs=%d", t.address, len(msgs))
	for _, m := range msgs {
		switch m.ID {
		case railcom.MsgPOM:
			if t.pending != opNone {
				t.pending = opNone
				t.opDone = true
				t.opStatus = true
				t.opVal = m.POM.Val
			}
		case railcom.MsgDYN:
			if m.DYN.ID == railcom.DynSpeed1 {
				t.lastSpeedReport = m.DYN.Val
				t.lastSpeedReportAt = time.Now()
				t.haveSpeedReport = true
			}
		}
	}
}

// LastReportedSpeed returns the loco's last self-reported speed over
// RailCom DYN messages, and whether one has ever been received.
func (t *Throttle) LastReportedSpeed() (val byte, at time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSpeedReport, t.lastSpeedReportAt, t.haveSpeedReport
}
