// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dccpkt

import "testing"

func TestSpeed128RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		address int
		speed   int
	}{
		{"short forward", 3, 40},
		{"short reverse", 3, -40},
		{"short stopped", 3, 0},
		{"long address", 1234, 100},
		{"max forward", 3, 127},
		{"max reverse", 3, -127},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := NewSpeed128(c.address, c.speed)
			if err != nil {
				t.Fatalf("NewSpeed128: %v", err)
			}
			wire := Encode(p)
			decoded, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Type() != KindSpeed128 {
				t.Fatalf("Type = %v, want Speed128", decoded.Type())
			}
			addr, _ := Address(decoded.Bytes())
			if addr != c.address {
				t.Errorf("address = %d, want %d", addr, c.address)
			}
			speed, ok := decoded.Speed128()
			if !ok {
				t.Fatal("Speed128() ok=false")
			}
			if speed != c.speed {
				t.Errorf("speed = %d, want %d", speed, c.speed)
			}
		})
	}
}

func TestSpeed128RejectsBroadcast(t *testing.T) {
	if _, err := NewSpeed128(AddressBroadcast, 10); err != ErrBroadcastNotAllowed {
		t.Fatalf("err = %v, want ErrBroadcastNotAllowed", err)
	}
}

func TestSpeed128RejectsOutOfRange(t *testing.T) {
	if _, err := NewSpeed128(3, 200); err != ErrSpeedOutOfRange {
		t.Fatalf("err = %v, want ErrSpeedOutOfRange", err)
	}
}

func TestFunctionGroupsRoundTrip(t *testing.T) {
	groups := []struct {
		name string
		fMin int
	}{
		{"F0-4", 0}, {"F5-8", 5}, {"F9-12", 9}, {"F13-20", 13},
		{"F21-28", 21}, {"F29-36", 29}, {"F37-44", 37},
		{"F45-52", 45}, {"F53-60", 53}, {"F61-68", 61},
	}
	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			on := []int{g.fMin, g.fMin + 1}
			p, err := NewFunctionGroup(42, g.fMin, on)
			if err != nil {
				t.Fatalf("NewFunctionGroup: %v", err)
			}
			wire := Encode(p)
			decoded, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			onGot, err := decoded.GetFunction(g.fMin)
			if err != nil || !onGot {
				t.Errorf("f%d should be on (err=%v)", g.fMin, err)
			}
			offGot, err := decoded.GetFunction(g.fMin + 2)
			if err != nil || offGot {
				t.Errorf("f%d should be off (err=%v)", g.fMin+2, err)
			}
		})
	}
}

func TestOpsCVAccessRoundTrip(t *testing.T) {
	p, err := NewOpsWriteCV(3, 29, 0x42)
	if err != nil {
		t.Fatalf("NewOpsWriteCV: %v", err)
	}
	decoded, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type() != KindOpsWriteCV {
		t.Fatalf("Type = %v, want OpsWriteCV", decoded.Type())
	}
	cv, err := decoded.CVNum()
	if err != nil || cv != 29 {
		t.Errorf("CVNum = %d, %v, want 29", cv, err)
	}
}

func TestServiceModeDirectPackets(t *testing.T) {
	write, err := NewSvcWriteCV(29, 0x42)
	if err != nil {
		t.Fatalf("NewSvcWriteCV: %v", err)
	}
	if !IsServiceDirect(Encode(write)) {
		t.Error("expected IsServiceDirect(write)")
	}
	decoded, err := Decode(Encode(write))
	if err != nil || decoded.Type() != KindSvcWriteCV {
		t.Fatalf("Decode = %v, %v, want SvcWriteCV", decoded, err)
	}

	verify, err := NewSvcVerifyCV(29)
	if err != nil {
		t.Fatalf("NewSvcVerifyCV: %v", err)
	}
	verify.SetCVValue(0x42)
	decoded2, err := Decode(Encode(verify.Packet()))
	if err != nil || decoded2.Type() != KindSvcVerifyCV {
		t.Fatalf("Decode = %v, %v, want SvcVerifyCV", decoded2, err)
	}

	bit, err := NewSvcVerifyBit(29)
	if err != nil {
		t.Fatalf("NewSvcVerifyBit: %v", err)
	}
	bit.SetBit(3, true)
	decoded3, err := Decode(Encode(bit.Packet()))
	if err != nil || decoded3.Type() != KindSvcVerifyBit {
		t.Fatalf("Decode = %v, %v, want SvcVerifyBit", decoded3, err)
	}
}

func TestResetAndIdle(t *testing.T) {
	r := NewReset()
	if r.Type() != KindReset {
		t.Errorf("Reset Type = %v", r.Type())
	}
	i := NewIdle()
	if i.Type() != KindIdle {
		t.Errorf("Idle Type = %v", i.Type())
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	p, _ := NewSpeed128(3, 40)
	wire := Encode(p)
	wire[len(wire)-1] ^= 0xff
	if _, err := Decode(wire); err != ErrBadChecksum {
		t.Fatalf("err = %v, want ErrBadChecksum", err)
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	if _, err := Decode([]byte{0x03}); err != ErrMsgTooShort {
		t.Fatalf("err = %v, want ErrMsgTooShort", err)
	}
}
