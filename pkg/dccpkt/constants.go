// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dccpkt encodes and decodes DCC link-layer packets: the address
// and instruction bytes that ride inside a DccStation bit-stream, per
// NMRA S-9.2/S-9.2.1.
package dccpkt

// Loco address constraints (NMRA S-9.2).
const (
	AddressBroadcast = 0
	AddressMin       = 1
	AddressShortMax  = 127
	AddressMax       = 10239
)

// Speed-128 constraints (S-9.2.1, section 2.3.2.1).
const (
	SpeedMin = -127
	SpeedMax = 127
)

// Function numbering (S-9.2.1, sections 2.3.4-2.3.6.6).
const (
	FunctionMin = 0
	FunctionMax = 68
)

// Configuration Variable constraints (S-9.2.3).
const (
	CVNumMin = 1
	CVNumMax = 1024
)

// Preamble lengths (S-9.2, section A; S-9.2.3, section E).
const (
	OpsPreambleBits = 14
	SvcPreambleBits = 20
)

const msgMax = 6
