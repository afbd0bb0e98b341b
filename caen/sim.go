// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Peak is a gaussian line generated by the Simulator on a channel.
type Peak struct {
	Mean  float64 // mean, in bins
	Sigma float64 // standard deviation, in bins
	Rate  float64 // number of counts added at each histogram read
}

// Simulator is a pure-Go Library emulating a single-board setup.
//
// Simulator records the number of calls of each native function and can
// be instructed to fail a function with a given status code.
type Simulator struct {
	mu sync.Mutex

	calls  map[string]int
	faults map[string]RetCode
	delay  time.Duration

	now func() time.Time
	src rand.Source

	init   bool
	handle int32
	boards []ConnectionParams

	configured bool
	mode       AcqMode
	params     DgtzParams

	chans [MaxNumChB]simChannel
}

type simChannel struct {
	running bool
	start   time.Time
	elapsed time.Duration
	peaks   []Peak
	histo   Histogram
}

var _ Library = (*Simulator)(nil)

// NewSimulator returns a new simulated library.
// seed seeds the generation of the simulated spectra.
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{
		calls:  make(map[string]int),
		faults: make(map[string]RetCode),
		now:    time.Now,
		src:    rand.NewSource(seed),
	}
}

// Calls returns the number of times the named native function was called.
// An empty name returns the total number of calls.
func (sim *Simulator) Calls(name string) int {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if name == "" {
		n := 0
		for _, v := range sim.calls {
			n += v
		}
		return n
	}
	return sim.calls[name]
}

// Fail makes the named native function return rc until cleared with
// a Success status code.
func (sim *Simulator) Fail(name string, rc RetCode) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc == Success {
		delete(sim.faults, name)
		return
	}
	sim.faults[name] = rc
}

// SetDelay makes every native function block for d before returning.
func (sim *Simulator) SetDelay(d time.Duration) {
	sim.mu.Lock()
	sim.delay = d
	sim.mu.Unlock()
}

// SetPeaks sets the lines generated on channel ch while it acquires.
func (sim *Simulator) SetPeaks(ch int, peaks ...Peak) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.chans[ch].peaks = append([]Peak(nil), peaks...)
}

// enter records a call to the named function and returns the injected
// fault, if any. enter must be called with sim.mu held.
func (sim *Simulator) enter(name string) RetCode {
	sim.calls[name]++
	if sim.delay > 0 {
		sim.mu.Unlock()
		time.Sleep(sim.delay)
		sim.mu.Lock()
	}
	return sim.faults[name]
}

func (sim *Simulator) InitLibrary() (int32, RetCode) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("InitLibrary"); rc != Success {
		return -1, rc
	}
	if sim.init {
		return -1, RCTooManyInstances
	}
	sim.init = true
	sim.handle++
	sim.boards = sim.boards[:0]
	sim.configured = false
	return sim.handle, Success
}

func (sim *Simulator) checkHandle(handle int32) RetCode {
	if !sim.init || handle != sim.handle {
		return RCInvalidHandle
	}
	return Success
}

func (sim *Simulator) AddBoard(handle int32, cp ConnectionParams) (int32, RetCode) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("AddBoard"); rc != Success {
		return -1, rc
	}
	if rc := sim.checkHandle(handle); rc != Success {
		return -1, rc
	}
	if len(sim.boards) > 0 {
		return -1, RCTooManyInstances
	}
	sim.boards = append(sim.boards, cp)
	return int32(len(sim.boards) - 1), Success
}

func (sim *Simulator) checkBoard(handle, board int32) RetCode {
	if rc := sim.checkHandle(handle); rc != Success {
		return rc
	}
	if board < 0 || int(board) >= len(sim.boards) {
		return RCInvalidBoardIndex
	}
	return Success
}

func (sim *Simulator) SetBoardConfiguration(handle, board int32, mode AcqMode, p *DgtzParams) RetCode {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("SetBoardConfiguration"); rc != Success {
		return rc
	}
	if rc := sim.checkBoard(handle, board); rc != Success {
		return rc
	}
	for i := range sim.chans {
		if sim.chans[i].running {
			return RCAcquisitionRunning
		}
	}
	if p.Validate() != nil {
		return RCInvalidParameter
	}
	sim.params = *p
	sim.mode = mode
	sim.configured = true
	return Success
}

func (sim *Simulator) GetBoardConfiguration(handle, board int32, p *DgtzParams) (AcqMode, RetCode) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("GetBoardConfiguration"); rc != Success {
		return 0, rc
	}
	if rc := sim.checkBoard(handle, board); rc != Success {
		return 0, rc
	}
	if !sim.configured {
		return 0, RCBoardNotConfigured
	}
	*p = sim.params
	return sim.mode, Success
}

func (sim *Simulator) checkChannel(handle, ch int32) RetCode {
	if rc := sim.checkHandle(handle); rc != Success {
		return rc
	}
	if len(sim.boards) == 0 {
		return RCNoBoardsAdded
	}
	if ch < 0 || ch >= MaxNumChB {
		return RCInvalidChannelIndex
	}
	return Success
}

func (sim *Simulator) StartAcquisition(handle, ch int32) RetCode {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("StartAcquisition"); rc != Success {
		return rc
	}
	if rc := sim.checkChannel(handle, ch); rc != Success {
		return rc
	}
	switch {
	case !sim.configured:
		return RCBoardNotConfigured
	case sim.mode != AcqModeHistogram:
		return RCNotInHistoMode
	case (sim.params.ChannelMask>>ch)&1 == 0:
		return RCChannelNotEnabled
	}

	c := &sim.chans[ch]
	if c.running {
		return RCAcquisitionRunning
	}
	c.running = true
	c.start = sim.now()
	c.elapsed = 0
	c.histo = Histogram{Channel: int(ch), Status: AcqRunning}
	return Success
}

func (sim *Simulator) StopAcquisition(handle, ch int32) RetCode {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("StopAcquisition"); rc != Success {
		return rc
	}
	if rc := sim.checkChannel(handle, ch); rc != Success {
		return rc
	}
	c := &sim.chans[ch]
	if !c.running {
		return Success
	}
	sim.update(c)
	c.running = false
	c.histo.Status = AcqStopped
	return Success
}

func (sim *Simulator) GetCurrentHistogram(handle, ch int32, h *Histogram) RetCode {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("GetCurrentHistogram"); rc != Success {
		return rc
	}
	if rc := sim.checkChannel(handle, ch); rc != Success {
		return rc
	}
	c := &sim.chans[ch]
	if c.running {
		sim.update(c)
	}
	*h = c.histo
	h.Channel = int(ch)
	return Success
}

// update accumulates the generated lines and the timers of a running channel.
func (sim *Simulator) update(c *simChannel) {
	c.elapsed = sim.now().Sub(c.start)
	c.histo.RealTime = uint64(c.elapsed)
	c.histo.DeadTime = c.histo.RealTime / 100

	for _, pk := range c.peaks {
		gen := distuv.Normal{Mu: pk.Mean, Sigma: pk.Sigma, Src: sim.src}
		n := int(math.Round(pk.Rate))
		for i := 0; i < n; i++ {
			bin := int(math.Round(gen.Rand()))
			if bin < 0 || bin >= NumBins {
				continue
			}
			c.histo.Counts[bin]++
			c.histo.Total++
		}
	}
}

func (sim *Simulator) EndLibrary(handle int32) RetCode {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if rc := sim.enter("EndLibrary"); rc != Success {
		return rc
	}
	if rc := sim.checkHandle(handle); rc != Success {
		return rc
	}
	sim.init = false
	sim.boards = sim.boards[:0]
	sim.configured = false
	for i := range sim.chans {
		c := &sim.chans[i]
		c.running = false
		c.histo = Histogram{}
	}
	return Success
}
