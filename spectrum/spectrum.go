// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spectrum holds the energy spectra accumulated by the acquisition
// channels, together with their linear energy calibration.
package spectrum // import "github.com/go-lpc/rbs/spectrum"

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/go-lpc/rbs/caen"
	"go-hep.org/x/hep/hbook"
)

// NumBins is the number of bins of a spectrum.
const NumBins = caen.NumBins

// Calibration is a linear channel to energy calibration.
type Calibration struct {
	Slope  float64 `json:"slope"`
	Offset float64 `json:"offset"`
}

// Identity is the default calibration, mapping channel i to i.
var Identity = Calibration{Slope: 1, Offset: 0}

// Energy returns the calibrated value of channel index i.
func (c Calibration) Energy(i float64) float64 {
	return c.Slope*i + c.Offset
}

// Validate checks the calibration coefficients are usable.
func (c Calibration) Validate() error {
	switch {
	case math.IsNaN(c.Slope) || math.IsInf(c.Slope, 0):
		return fmt.Errorf("spectrum: invalid calibration slope %v", c.Slope)
	case math.IsNaN(c.Offset) || math.IsInf(c.Offset, 0):
		return fmt.Errorf("spectrum: invalid calibration offset %v", c.Offset)
	}
	return nil
}

// Spectrum is the histogram buffer of one acquisition channel.
//
// The raw counts are only modified by Update. The calibration can be
// changed at any time without altering the counts.
type Spectrum struct {
	mu sync.RWMutex

	ch     int
	counts [NumBins]uint32
	total  uint32
	rtime  time.Duration
	dtime  time.Duration
	status caen.AcqStatus
	calib  Calibration
}

// New returns an empty spectrum for channel ch, with the identity calibration.
func New(ch int) *Spectrum {
	return &Spectrum{ch: ch, calib: Identity}
}

// Channel returns the acquisition channel of the spectrum.
func (s *Spectrum) Channel() int { return s.ch }

// X returns the channel index ramp 0, 1, ..., NumBins-1.
func (s *Spectrum) X() []float64 {
	x := make([]float64, NumBins)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

// CalX returns the calibrated energy of each channel index, computed from
// the current calibration.
func (s *Spectrum) CalX() []float64 {
	calib := s.Calibration()
	x := make([]float64, NumBins)
	for i := range x {
		x[i] = calib.Energy(float64(i))
	}
	return x
}

// Y returns a copy of the counts.
func (s *Spectrum) Y() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	y := make([]uint32, NumBins)
	copy(y, s.counts[:])
	return y
}

// Total returns the total number of counts, as reported by the board.
func (s *Spectrum) Total() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Times returns the real and dead times of the last update.
func (s *Spectrum) Times() (rtime, dtime time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rtime, s.dtime
}

// Status returns the acquisition status of the last update.
func (s *Spectrum) Status() caen.AcqStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Calibration returns the current calibration.
func (s *Spectrum) Calibration() Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calib
}

// SetCalibration changes the calibration of the spectrum.
func (s *Spectrum) SetCalibration(c Calibration) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.calib = c
	s.mu.Unlock()
	return nil
}

// Update replaces the content of the spectrum with the histogram h.
func (s *Spectrum) Update(h *caen.Histogram) error {
	if h.Channel != s.ch {
		return fmt.Errorf(
			"spectrum: histogram channel mismatch (got=%d, want=%d)",
			h.Channel, s.ch,
		)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = h.Counts
	s.total = h.Total
	s.rtime = time.Duration(h.RealTime)
	s.dtime = time.Duration(h.DeadTime)
	s.status = h.Status
	return nil
}

// Reset clears the counts and timers. The calibration is kept.
func (s *Spectrum) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = [NumBins]uint32{}
	s.total = 0
	s.rtime = 0
	s.dtime = 0
	s.status = caen.AcqStopped
}

// H1D returns the spectrum as a histogram of the calibrated energy.
func (s *Spectrum) H1D() (*hbook.H1D, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calib := s.calib
	if calib.Slope <= 0 {
		return nil, fmt.Errorf("spectrum: can not bin a calibration with slope %v", calib.Slope)
	}

	var (
		xmin = calib.Energy(-0.5)
		xmax = calib.Energy(NumBins - 0.5)
		h    = hbook.NewH1D(NumBins, xmin, xmax)
	)
	for i, n := range s.counts {
		if n == 0 {
			continue
		}
		h.Fill(calib.Energy(float64(i)), float64(n))
	}
	h.Annotation()["name"] = fmt.Sprintf("ch-%02d", s.ch)
	h.Annotation()["title"] = fmt.Sprintf("energy spectrum, channel %d", s.ch)
	return h, nil
}

// WriteYODA writes the calibrated spectrum in the YODA format.
func (s *Spectrum) WriteYODA(w io.Writer) error {
	h, err := s.H1D()
	if err != nil {
		return err
	}
	raw, err := h.MarshalYODA()
	if err != nil {
		return fmt.Errorf("spectrum: could not marshal to YODA: %w", err)
	}
	_, err = w.Write(raw)
	if err != nil {
		return fmt.Errorf("spectrum: could not write YODA: %w", err)
	}
	return nil
}
