// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/kazwalker/dccstation/pkg/bitstream"
	"github.com/kazwalker/dccstation/pkg/config"
	"github.com/kazwalker/dccstation/pkg/currentsense"
	"github.com/kazwalker/dccstation/pkg/dcctrace"
	"github.com/kazwalker/dccstation/pkg/scheduler"
	"github.com/rs/zerolog"
)

// traceRingCap bounds the diagnostic ring shared by the bitstream and
// throttle hot paths; it's rounded up to the next power of two by
// dcctrace.NewRing.
const traceRingCap = 256

// Station wires together one command station instance: the Scheduler
// state machine, the Bitstream renderer driving a TrackDriver, and the
// ADC-backed ack detector. cmd subcommands share this construction
// rather than each standing up their own.
type Station struct {
	Cfg *config.Config
	Log zerolog.Logger

	ADC       *currentsense.Sensor
	Scheduler *scheduler.Scheduler
	Bitstream *bitstream.Bitstream
	Driver    *bitstream.StubDriver
	Trace     *dcctrace.Ring

	stop chan struct{}
}

// NewStation constructs a Station with a stub TrackDriver and ADCSource:
// this module never drives real track power or reads a real ADC (see
// DESIGN.md), so every cmd that needs a running station gets its
// scheduling and ack-detection logic exercised against the same stubs
// the test suite uses.
func NewStation(cfg *config.Config, log zerolog.Logger) *Station {
	adcStub := &currentsense.StubADC{Samples: []uint16{1000}}
	adc := currentsense.NewSensor(adcStub)
	sched := scheduler.New(adc)
	driver := &bitstream.StubDriver{}
	bs := bitstream.New(driver, sched, nil)

	trace := dcctrace.NewRing(traceRingCap)
	bs.SetTrace(trace)
	sched.SetTrace(trace)

	return &Station{
		Cfg:       cfg,
		Log:       log,
		ADC:       adc,
		Scheduler: sched,
		Bitstream: bs,
		Driver:    driver,
		Trace:     trace,
		stop:      make(chan struct{}),
	}
}

// Run drives the bit-period and ADC-sample clocks until Stop is called.
// A real deployment ties these to hardware timer interrupts; here
// time.Ticker stands in, at a pace scaled down from the true 58us/100us
// bit-period so it's cheap to run as an ordinary goroutine.
func (s *Station) Run() {
	bitTick := time.NewTicker(100 * time.Microsecond)
	adcTick := time.NewTicker(time.Second / time.Duration(s.Cfg.Service.SampleRateHz))
	traceTick := time.NewTicker(10 * time.Millisecond)
	defer bitTick.Stop()
	defer adcTick.Stop()
	defer traceTick.Stop()

	if !s.Bitstream.Running() {
		s.Bitstream.StartOps()
		s.Log.Info().Msg("bitstream started in Ops Mode")
	}

	for {
		select {
		case <-s.stop:
			s.drainTrace()
			return
		case <-bitTick.C:
			s.Bitstream.Tick()
		case <-adcTick.C:
			s.Scheduler.Tick()
		case <-traceTick.C:
			s.drainTrace()
		}
	}
}

// drainTrace forwards every diagnostic line published since the last
// drain into the structured logger. This is the one place the hot-path
// dcctrace ring and the ambient zerolog logger meet; it runs on the same
// goroutine as Run's other ticks, so it's the ring's single consumer.
func (s *Station) drainTrace() {
	s.Trace.Drain(func(l *dcctrace.Line) {
		s.Log.Debug().Str("source", "dcctrace").Msg(l.String())
	})
}

// Stop halts the Run loop and de-energizes the track.
func (s *Station) Stop() {
	close(s.stop)
	s.Bitstream.Stop()
}
