// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scheduler is the top-level command station state machine: it
// tracks Mode (off/Ops/Service), round-robins packets across the active
// throttle list in Ops Mode, and sequences the reset/command/reset
// phases of a Service Mode write or read against the current-sense ack
// detector. It implements bitstream.PacketSource.
package scheduler

import (
	"errors"
	"sort"
	"sync"

	"github.com/kazwalker/dccstation/pkg/bitstream"
	"github.com/kazwalker/dccstation/pkg/currentsense"
	"github.com/kazwalker/dccstation/pkg/dcctrace"
	"github.com/kazwalker/dccstation/pkg/dccpkt"
	"github.com/kazwalker/dccstation/pkg/throttle"
)

// svcReset1Cnt/svcCommandCnt/svcReset2Cnt are the three phases' packet
// counts for one Service Mode programming step (S-9.2.3 section A).
const (
	svcReset1Cnt  = 20
	svcCommandCnt = 5
	svcReset2Cnt  = 5
)

// Mode is the scheduler's top-level operating mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeOps
	ModeSvc
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "Off"
	case ModeOps:
		return "Ops"
	case ModeSvc:
		return "Svc"
	default:
		return "Unknown"
	}
}

type svcOp int

const (
	svcOpNone svcOp = iota
	svcOpWriteCV
	svcOpWriteBit
	svcOpReadCV
	svcOpReadBit
)

type svcStep int

const (
	svcStepNone svcStep = iota
	svcStepReset1
	svcStepCommand
	svcStepReset2
)

type svcStatus int

const (
	svcInProgress svcStatus = iota
	svcSuccess
	svcError
)

// ErrSvcBusy is returned by the Svc* methods when a Service Mode
// operation is already running.
var ErrSvcBusy = errors.New("scheduler: a service mode operation is already in progress")

// Scheduler owns the active throttle list and the Service Mode
// programming sequencer. All exported methods lock mu, since a
// Scheduler is shared between the goroutine driving the transmit clock
// (GetPacket, Tick) and whatever goroutine handles operator commands
// (console REPL, HTTP API).
type Scheduler struct {
	mu sync.Mutex

	adc *currentsense.Sensor

	mode   Mode
	svcOp  svcOp
	step   svcStep
	cmdCnt int

	status     svcStatus
	statusNext svcStatus

	throttles []*throttle.Throttle
	nextIdx   int

	// trace is handed to every Throttle as it's created so a single
	// diagnostic ring serves the whole roster; both the Scheduler's own
	// callers and package bitstream run on the same transmit-clock
	// goroutine, so sharing one ring never violates its single-producer
	// contract.
	trace *dcctrace.Ring

	// svc write state
	svcWriteCVNum  int
	svcWriteVal    byte
	svcWriteBitNum int
	svcWriteBitVal bool

	// svc read state
	svcReadCVNum int
	verifyBit    int // 0-7 while probing a bit, 8 while probing the full byte
	verifyBitVal bool
	cvVal        byte

	// svcReadBit state additionally reuses verifyBit as the fixed bit
	// under test and verifyBitVal as the candidate 0/1 value being tried.
}

// New constructs an idle Scheduler driving ack detection through adc.
func New(adc *currentsense.Sensor) *Scheduler {
	return &Scheduler{adc: adc}
}

// SetTrace attaches a diagnostic ring, propagating it to every throttle
// already on the roster and every one created afterward. Passing nil
// disables tracing.
func (s *Scheduler) SetTrace(r *dcctrace.Ring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = r
	for _, t := range s.throttles {
		t.SetTrace(r)
	}
}

// Mode reports the current top-level mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetModeOff leaves Ops or Service Mode and disarms ack detection;
// GetPacket then yields Idle packets. It does not stop the Bitstream.
func (s *Scheduler) SetModeOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setModeOff()
}

func (s *Scheduler) setModeOff() {
	s.mode = ModeOff
	s.svcOp = svcOpNone
	s.adc.Disarm()
}

// SetModeOps switches to Ops Mode, round-robining the throttle list.
func (s *Scheduler) SetModeOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeOps
	s.svcOp = svcOpNone
}

func (s *Scheduler) assertSvcIdle() error {
	if s.mode != ModeOff {
		return ErrSvcBusy
	}
	if s.step != svcStepNone {
		return ErrSvcBusy
	}
	return nil
}

func (s *Scheduler) svcStart(op svcOp) error {
	if err := s.assertSvcIdle(); err != nil {
		return err
	}
	s.mode = ModeSvc
	s.svcOp = op
	s.status = svcInProgress
	s.statusNext = svcInProgress
	s.step = svcStepReset1
	s.cmdCnt = svcReset1Cnt
	return nil
}

// SvcWriteCV starts a Service Mode direct-mode CV byte write.
func (s *Scheduler) SvcWriteCV(cvNum int, val byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := svcCheckCV(cvNum); err != nil {
		return err
	}
	s.svcWriteCVNum = cvNum
	s.svcWriteVal = val
	return s.svcStart(svcOpWriteCV)
}

// SvcWriteBit starts a Service Mode direct-mode CV bit write.
func (s *Scheduler) SvcWriteBit(cvNum, bitNum int, val bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := svcCheckCV(cvNum); err != nil {
		return err
	}
	s.svcWriteCVNum = cvNum
	s.svcWriteBitNum = bitNum
	s.svcWriteBitVal = val
	return s.svcStart(svcOpWriteBit)
}

// SvcReadCV starts a Service Mode byte-at-a-time CV read (8 single-bit
// probes followed by a full-byte verify of the accumulated value).
func (s *Scheduler) SvcReadCV(cvNum int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := svcCheckCV(cvNum); err != nil {
		return err
	}
	s.svcReadCVNum = cvNum
	s.cvVal = 0
	return s.svcStart(svcOpReadCV)
}

// SvcReadBit starts a Service Mode single-bit read: tries verifying the
// bit as 0, then as 1 if no ack came back.
func (s *Scheduler) SvcReadBit(cvNum, bitNum int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := svcCheckCV(cvNum); err != nil {
		return err
	}
	s.svcReadCVNum = cvNum
	s.verifyBit = bitNum
	return s.svcStart(svcOpReadBit)
}

func svcCheckCV(cvNum int) error {
	if cvNum < dccpkt.CVNumMin || cvNum > dccpkt.CVNumMax {
		return dccpkt.ErrCVOutOfRange
	}
	return nil
}

// SvcDone polls a Service Mode write operation.
func (s *Scheduler) SvcDone() (done, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == svcInProgress {
		return false, false
	}
	return true, s.status == svcSuccess
}

// SvcDoneValue polls a Service Mode read operation.
func (s *Scheduler) SvcDoneValue() (done, ok bool, val byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == svcInProgress {
		return false, false, 0
	}
	return true, s.status == svcSuccess, s.cvVal
}

// Tick drives the Service Mode ack-current check. Call it once per ADC
// sample tick (independent of the bit-period tick that drives the
// transmit clock and GetPacket calls).
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeSvc {
		return
	}
	s.adc.Sample()
	if s.adc.CheckAck() {
		s.noteAck()
	}
}

func (s *Scheduler) noteAck() {
	switch s.svcOp {
	case svcOpReadCV:
		if s.verifyBit < 8 {
			s.cvVal |= 1 << uint(s.verifyBit)
		} else {
			s.finishSvcSuccess()
		}
	case svcOpReadBit:
		s.cvVal = 0
		if s.verifyBitVal {
			s.cvVal = 1
		}
		s.finishSvcSuccess()
	default:
		s.finishSvcSuccess()
	}
}

// finishSvcSuccess records the ack outcome and, unless the ADC
// capture-log is active, fast-forwards straight to Reset2 instead of
// running out the rest of the Command phase's packet count. With the
// capture-log active the Command phase is left to finish on its own so
// the captured samples cover a complete, unshortened cycle.
func (s *Scheduler) finishSvcSuccess() {
	s.statusNext = svcSuccess
	s.adc.Disarm()
	if s.adc.Logging() {
		return
	}
	s.step = svcStepReset2
	s.cmdCnt = 0
}

// GetPacket implements bitstream.PacketSource. Called once per
// transmitted packet.
func (s *Scheduler) GetPacket() (*dccpkt.Packet, bitstream.RailComSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case ModeOps:
		return s.getPacketOps()
	case ModeSvc:
		return s.getPacketSvc(), nil
	default:
		return dccpkt.NewIdle(), nil
	}
}

func (s *Scheduler) getPacketOps() (*dccpkt.Packet, bitstream.RailComSink) {
	if len(s.throttles) == 0 {
		return dccpkt.NewIdle(), nil
	}
	t := s.throttles[s.nextIdx]
	s.nextIdx = (s.nextIdx + 1) % len(s.throttles)
	p, err := t.NextPacket()
	if err != nil {
		return dccpkt.NewIdle(), nil
	}
	return p, t
}

func (s *Scheduler) getPacketSvc() *dccpkt.Packet {
	switch s.svcOp {
	case svcOpWriteCV, svcOpWriteBit:
		return s.getPacketSvcWrite()
	case svcOpReadCV:
		return s.getPacketSvcReadCV()
	case svcOpReadBit:
		return s.getPacketSvcReadBit()
	default:
		return dccpkt.NewReset()
	}
}

// getPacketSvcWrite sequences Reset1(20) / Command(5) / Reset2(5) for a
// CV byte or bit write, arming the ack detector at the reset1/command
// boundary and ending the moment an ack is observed.
func (s *Scheduler) getPacketSvcWrite() *dccpkt.Packet {
	if s.step == svcStepReset1 {
		s.cmdCnt--
		if s.cmdCnt == 0 {
			s.adc.ArmAck()
			s.step = svcStepCommand
			s.cmdCnt = svcCommandCnt
		}
		return dccpkt.NewReset()
	}

	if s.step == svcStepCommand {
		s.cmdCnt--
		var p *dccpkt.Packet
		var err error
		if s.svcOp == svcOpWriteCV {
			p, err = dccpkt.NewSvcWriteCV(s.svcWriteCVNum, s.svcWriteVal)
		} else {
			p, err = dccpkt.NewSvcWriteBit(s.svcWriteCVNum, s.svcWriteBitNum, s.svcWriteBitVal)
		}
		if s.cmdCnt == 0 {
			s.step = svcStepReset2
			s.cmdCnt = svcReset2Cnt
		}
		if err != nil {
			return dccpkt.NewReset()
		}
		return p
	}

	// svcStepReset2
	if s.cmdCnt > 0 {
		s.cmdCnt--
		return dccpkt.NewReset()
	}

	s.concludeSvc()
	return dccpkt.NewReset()
}

func (s *Scheduler) concludeSvc() {
	if s.statusNext == svcInProgress {
		s.status = svcError
	} else {
		s.status = svcSuccess
	}
	s.setModeOff()
	s.step = svcStepNone
}

// getPacketSvcReadCV implements the byte-at-a-time read: one reset1
// phase, then 8 single-bit verifies (bit 7 down to bit 0), each with its
// own command/reset2 phases, followed by one full-byte verify of the
// value built up from the bit acks.
func (s *Scheduler) getPacketSvcReadCV() *dccpkt.Packet {
	if s.step == svcStepReset1 {
		s.cmdCnt--
		if s.cmdCnt == 0 {
			s.adc.ArmAck()
			s.verifyBit = 7
			s.verifyBitVal = true
			s.step = svcStepCommand
			s.cmdCnt = svcCommandCnt
		}
		return dccpkt.NewReset()
	}

	if s.step == svcStepCommand {
		s.cmdCnt--
		p := s.svcReadCVProbe()
		if s.cmdCnt == 0 {
			s.step = svcStepReset2
			s.cmdCnt = svcReset2Cnt
		}
		return p
	}

	// svcStepReset2
	if s.cmdCnt > 0 {
		s.cmdCnt--
		if s.cmdCnt == 0 {
			s.adc.ArmAck()
		}
		return dccpkt.NewReset()
	}

	return s.svcReadCVAdvance()
}

func (s *Scheduler) svcReadCVProbe() *dccpkt.Packet {
	if s.verifyBit == 8 {
		v, err := dccpkt.NewSvcVerifyCV(s.svcReadCVNum)
		if err != nil {
			return dccpkt.NewReset()
		}
		v.SetCVValue(s.cvVal)
		return v.Packet()
	}
	v, err := dccpkt.NewSvcVerifyBit(s.svcReadCVNum)
	if err != nil {
		return dccpkt.NewReset()
	}
	v.SetBit(s.verifyBit, true)
	return v.Packet()
}

func (s *Scheduler) svcReadCVAdvance() *dccpkt.Packet {
	if s.verifyBit >= 1 && s.verifyBit <= 7 {
		s.verifyBit--
		s.step = svcStepCommand
		s.cmdCnt = svcCommandCnt - 1
		v, err := dccpkt.NewSvcVerifyBit(s.svcReadCVNum)
		if err != nil {
			return dccpkt.NewReset()
		}
		v.SetBit(s.verifyBit, true)
		return v.Packet()
	}

	if s.verifyBit == 0 {
		s.verifyBit = 8
		s.step = svcStepCommand
		s.cmdCnt = svcCommandCnt - 1
		v, err := dccpkt.NewSvcVerifyCV(s.svcReadCVNum)
		if err != nil {
			return dccpkt.NewReset()
		}
		v.SetCVValue(s.cvVal)
		return v.Packet()
	}

	s.concludeSvc()
	return dccpkt.NewReset()
}

// getPacketSvcReadBit implements the single-bit read: verify 0 first;
// if that gets no ack over a full reset/command/reset cycle, try
// verifying 1.
func (s *Scheduler) getPacketSvcReadBit() *dccpkt.Packet {
	if s.step == svcStepReset1 {
		s.cmdCnt--
		if s.cmdCnt == 0 {
			s.adc.ArmAck()
			s.verifyBitVal = false
			s.step = svcStepCommand
			s.cmdCnt = svcCommandCnt
		}
		return dccpkt.NewReset()
	}

	if s.step == svcStepCommand {
		s.cmdCnt--
		v, err := dccpkt.NewSvcVerifyBit(s.svcReadCVNum)
		if s.cmdCnt == 0 {
			s.step = svcStepReset2
			s.cmdCnt = svcReset2Cnt
		}
		if err != nil {
			return dccpkt.NewReset()
		}
		v.SetBit(s.verifyBit, s.verifyBitVal)
		return v.Packet()
	}

	// svcStepReset2
	if s.cmdCnt > 0 {
		s.cmdCnt--
		return dccpkt.NewReset()
	}

	if s.statusNext == svcInProgress && !s.verifyBitVal {
		s.verifyBitVal = true
		s.step = svcStepCommand
		s.cmdCnt = svcCommandCnt
		return dccpkt.NewReset()
	}

	s.concludeSvc()
	return dccpkt.NewReset()
}

// CreateThrottle adds a new Throttle for address, or returns the
// existing one, and restarts the round-robin cursor.
func (s *Scheduler) CreateThrottle(address int) (*throttle.Throttle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findThrottle(address); t != nil {
		return t, nil
	}
	t, err := throttle.New(address)
	if err != nil {
		return nil, err
	}
	t.SetTrace(s.trace)
	s.throttles = append(s.throttles, t)
	s.restartThrottles()
	return t, nil
}

// DeleteThrottle removes the Throttle for address, if present, and
// restarts the round-robin cursor.
func (s *Scheduler) DeleteThrottle(address int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.throttles {
		if t.Address() == address {
			s.throttles = append(s.throttles[:i], s.throttles[i+1:]...)
			s.restartThrottles()
			return
		}
	}
}

// SvcLogging reports whether the ADC capture-log is active.
func (s *Scheduler) SvcLogging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adc.Logging()
}

// SetSvcLogging turns the ADC capture-log on or off.
func (s *Scheduler) SetSvcLogging(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adc.SetLogging(on)
}

// SvcCaptureLog returns a copy of the raw ADC samples captured since
// logging was last turned on.
func (s *Scheduler) SvcCaptureLog() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adc.CaptureLog()
}

// Throttles returns a snapshot of the active throttle list, address-sorted.
// The returned slice is a copy so the caller can range over it without
// racing a concurrent CreateThrottle/DeleteThrottle mutating the backing
// array.
func (s *Scheduler) Throttles() []*throttle.Throttle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*throttle.Throttle(nil), s.throttles...)
}

func (s *Scheduler) findThrottle(address int) *throttle.Throttle {
	for _, t := range s.throttles {
		if t.Address() == address {
			return t
		}
	}
	return nil
}

func (s *Scheduler) restartThrottles() {
	sort.Slice(s.throttles, func(i, j int) bool {
		return s.throttles[i].Address() < s.throttles[j].Address()
	})
	s.nextIdx = 0
}
