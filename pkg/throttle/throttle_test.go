// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package throttle

import (
	"testing"

	"github.com/kazwalker/dccstation/pkg/dcctrace"
)

func TestNewRejectsOutOfRangeAddress(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for address 0")
	}
	if _, err := New(10240); err == nil {
		t.Fatal("expected error for address above max")
	}
}

func TestSetSpeedRewindsToSpeedSlot(t *testing.T) {
	tr, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	tr.seq = 5
	if err := tr.SetSpeed(42); err != nil {
		t.Fatal(err)
	}
	if tr.seq&1 != 0 {
		t.Fatalf("seq %d should be even after SetSpeed", tr.seq)
	}
}

func TestSetFunctionJumpsToGroupSlot(t *testing.T) {
	tr, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.SetFunction(30, true); err != nil {
		t.Fatal(err)
	}
	if !tr.Function(30) {
		t.Fatal("function 30 should be on")
	}
	seq, ok := groupSeqFor(30)
	if !ok || tr.seq != seq {
		t.Fatalf("seq = %d, want %d", tr.seq, seq)
	}
}

func TestFunctionsReturnsOnlyOnFunctions(t *testing.T) {
	tr, _ := New(3)
	tr.SetFunction(0, true)
	tr.SetFunction(1, false)
	tr.SetFunction(5, true)
	on := tr.Functions()
	if len(on) != 2 || !on[0] || !on[5] {
		t.Fatalf("unexpected Functions() result: %v", on)
	}
}

func TestReadCVRejectsWhilePending(t *testing.T) {
	tr, _ := New(3)
	if err := tr.ReadCV(29); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteCV(1, 3); err != ErrOpPending {
		t.Fatalf("expected ErrOpPending, got %v", err)
	}
}

func TestReadCVTimesOutWithoutRailCom(t *testing.T) {
	tr, _ := New(3)
	tr.ReadCV(29)
	for i := 0; i < readCVSendCnt+1; i++ {
		if _, err := tr.NextPacket(); err != nil {
			t.Fatal(err)
		}
	}
	done, status, _ := tr.Done()
	if !done || status {
		t.Fatalf("expected done=true status=false after timeout, got done=%v status=%v", done, status)
	}
}

func TestRotationCompletesFullLapWithoutError(t *testing.T) {
	tr, _ := New(3)
	tr.SetSpeed(10)
	for i := 0; i < seqMax*2; i++ {
		if _, err := tr.NextPacket(); err != nil {
			t.Fatal(err)
		}
	}
	if tr.seq < 0 || tr.seq >= seqMax {
		t.Fatalf("seq %d out of range after full laps", tr.seq)
	}
}

func TestNextPacketReusesCachedSpeedPacket(t *testing.T) {
	tr, _ := New(3)
	tr.SetSpeed(10)
	p1, err := tr.NextPacket() // seq 0: speed
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.NextPacket(); err != nil { // seq 1: F0 group
		t.Fatal(err)
	}
	p3, err := tr.NextPacket() // seq 2: speed again
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p3 {
		t.Fatal("expected the cached speed packet to be reused across rotations, not reallocated")
	}
}

func TestReceiveRailComTraces(t *testing.T) {
	tr, _ := New(3)
	ring := dcctrace.NewRing(4)
	tr.SetTrace(ring)
	tr.ReceiveRailCom(nil)
	got := 0
	ring.Drain(func(l *dcctrace.Line) { got++ })
	if got == 0 {
		t.Fatal("expected ReceiveRailCom to publish a trace line when a ring is attached")
	}
}
