// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"testing"

	"github.com/kazwalker/dccstation/pkg/currentsense"
	"github.com/kazwalker/dccstation/pkg/dcctrace"
	"github.com/kazwalker/dccstation/pkg/dccpkt"
)

func newTestScheduler() *Scheduler {
	return New(currentsense.NewSensor(&currentsense.StubADC{}))
}

func TestModeOffYieldsIdle(t *testing.T) {
	s := newTestScheduler()
	p, sink := s.GetPacket()
	if p.Type() != dccpkt.KindIdle {
		t.Fatalf("got %v, want Idle", p.Type())
	}
	if sink != nil {
		t.Fatal("expected nil sink in Off mode")
	}
}

func TestOpsWithNoThrottlesYieldsIdle(t *testing.T) {
	s := newTestScheduler()
	s.SetModeOps()
	p, _ := s.GetPacket()
	if p.Type() != dccpkt.KindIdle {
		t.Fatalf("got %v, want Idle", p.Type())
	}
}

func TestOpsRoundRobinsThrottles(t *testing.T) {
	s := newTestScheduler()
	if _, err := s.CreateThrottle(3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateThrottle(5); err != nil {
		t.Fatal(err)
	}
	s.SetModeOps()

	seen := map[int]bool{}
	for i := 0; i < 40; i++ {
		p, sink := s.GetPacket()
		if p.Type() != dccpkt.KindSpeed128 {
			continue
		}
		addr, err := dccpkt.Address(p.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		seen[addr] = true
		if sink == nil {
			t.Fatal("expected a RailCom sink for an addressed ops packet")
		}
	}
	if !seen[3] || !seen[5] {
		t.Fatalf("expected to see both throttle addresses, got %v", seen)
	}
}

func TestDeleteThrottleRemovesFromRotation(t *testing.T) {
	s := newTestScheduler()
	s.CreateThrottle(3)
	s.CreateThrottle(5)
	s.DeleteThrottle(3)
	if len(s.Throttles()) != 1 {
		t.Fatalf("got %d throttles, want 1", len(s.Throttles()))
	}
	if s.Throttles()[0].Address() != 5 {
		t.Fatalf("remaining throttle address = %d, want 5", s.Throttles()[0].Address())
	}
}

func TestSvcWriteCVCompletesWithAck(t *testing.T) {
	stub := &currentsense.StubADC{Samples: []uint16{1000}}
	adc := currentsense.NewSensor(stub)
	s := New(adc)
	// Fill the rolling-average ring with a quiet baseline.
	for i := 0; i < 400; i++ {
		adc.Sample()
	}

	if err := s.SvcWriteCV(29, 0x06); err != nil {
		t.Fatal(err)
	}

	// Run reset1 (20 packets): the last one arms the ack detector against
	// the current baseline.
	for i := 0; i < svcReset1Cnt; i++ {
		p, _ := s.GetPacket()
		if p.Type() != dccpkt.KindReset {
			t.Fatalf("reset1[%d] type = %v", i, p.Type())
		}
	}

	// Simulate a decoder ack: a sustained current spike.
	stub.Samples = []uint16{3000}
	for i := 0; i < 20; i++ {
		s.Tick()
	}

	if s.step != svcStepReset2 {
		t.Fatalf("step = %v, want Reset2 after ack", s.step)
	}

	for i := 0; i < svcReset2Cnt; i++ {
		s.GetPacket()
	}

	done, ok := s.SvcDone()
	if !done || !ok {
		t.Fatalf("SvcDone() = (%v, %v), want (true, true)", done, ok)
	}
	if s.Mode() != ModeOff {
		t.Fatalf("Mode() = %v, want Off after completion", s.Mode())
	}
}

func TestSvcBusyRejectsConcurrentOp(t *testing.T) {
	s := newTestScheduler()
	if err := s.SvcWriteCV(1, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.SvcWriteCV(2, 0); err != ErrSvcBusy {
		t.Fatalf("got %v, want ErrSvcBusy", err)
	}
}

func TestSvcLoggingDefersReset2UntilCommandPhaseCompletes(t *testing.T) {
	stub := &currentsense.StubADC{Samples: []uint16{1000}}
	adc := currentsense.NewSensor(stub)
	s := New(adc)
	for i := 0; i < 400; i++ {
		adc.Sample()
	}
	s.SetSvcLogging(true)

	if err := s.SvcWriteCV(29, 0x06); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < svcReset1Cnt; i++ {
		s.GetPacket()
	}
	if s.step != svcStepCommand {
		t.Fatalf("step = %v, want Command after reset1", s.step)
	}

	// A sustained current spike would normally fast-forward straight to
	// Reset2; with the capture-log active it must not.
	stub.Samples = []uint16{3000}
	for i := 0; i < 20; i++ {
		s.Tick()
	}

	if s.step != svcStepCommand {
		t.Fatalf("step = %v, want still Command with capture-log active", s.step)
	}
	if s.statusNext != svcSuccess {
		t.Fatalf("statusNext = %v, want svcSuccess recorded even though Reset2 was deferred", s.statusNext)
	}
}

func TestSvcWithoutLoggingFastForwardsReset2(t *testing.T) {
	stub := &currentsense.StubADC{Samples: []uint16{1000}}
	adc := currentsense.NewSensor(stub)
	s := New(adc)
	for i := 0; i < 400; i++ {
		adc.Sample()
	}

	if err := s.SvcWriteCV(29, 0x06); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < svcReset1Cnt; i++ {
		s.GetPacket()
	}

	stub.Samples = []uint16{3000}
	for i := 0; i < 20; i++ {
		s.Tick()
	}

	if s.step != svcStepReset2 || s.cmdCnt != 0 {
		t.Fatalf("step=%v cmdCnt=%d, want Reset2 fast-forwarded to cmdCnt=0 without logging", s.step, s.cmdCnt)
	}
}

func TestSetTracePropagatesToExistingAndNewThrottles(t *testing.T) {
	s := newTestScheduler()
	tExisting, err := s.CreateThrottle(3)
	if err != nil {
		t.Fatal(err)
	}
	ring := dcctrace.NewRing(4)
	s.SetTrace(ring)
	tExisting.ReceiveRailCom(nil)
	tNew, err := s.CreateThrottle(5)
	if err != nil {
		t.Fatal(err)
	}
	tNew.ReceiveRailCom(nil)

	got := 0
	ring.Drain(func(l *dcctrace.Line) { got++ })
	if got != 2 {
		t.Fatalf("got %d trace lines, want 2 (one per throttle)", got)
	}
}
