// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import "fmt"

// AcqMode is the acquisition mode of a board.
type AcqMode int32

const (
	AcqModeWaveform AcqMode = iota
	AcqModeHistogram
)

func (mode AcqMode) String() string {
	switch mode {
	case AcqModeWaveform:
		return "waveform"
	case AcqModeHistogram:
		return "histogram"
	}
	return fmt.Sprintf("AcqMode(%d)", int32(mode))
}

// AcqStatus is the acquisition status of a channel, as reported by the board.
type AcqStatus int32

const (
	AcqStopped AcqStatus = iota
	AcqRunning
)

func (st AcqStatus) String() string {
	switch st {
	case AcqStopped:
		return "stopped"
	case AcqRunning:
		return "running"
	}
	return fmt.Sprintf("AcqStatus(%d)", int32(st))
}

// Histogram is a snapshot of the energy spectrum of a channel.
type Histogram struct {
	Channel  int             `json:"channel"`
	Counts   [NumBins]uint32 `json:"counts"`
	Total    uint32          `json:"total"`     // total number of counts
	RealTime uint64          `json:"real_time"` // real time, in ns
	DeadTime uint64          `json:"dead_time"` // dead time, in ns
	Status   AcqStatus       `json:"status"`
}

// Library is the native acquisition library driving the boards.
//
// Library mirrors the CAENDPPLib C API: every function returns a status
// code, output values are returned next to it.
// Implementations need not be safe for concurrent use.
type Library interface {
	InitLibrary() (handle int32, rc RetCode)
	AddBoard(handle int32, cp ConnectionParams) (board int32, rc RetCode)
	SetBoardConfiguration(handle, board int32, mode AcqMode, p *DgtzParams) RetCode
	GetBoardConfiguration(handle, board int32, p *DgtzParams) (AcqMode, RetCode)
	StartAcquisition(handle, ch int32) RetCode
	StopAcquisition(handle, ch int32) RetCode
	GetCurrentHistogram(handle, ch int32, h *Histogram) RetCode
	EndLibrary(handle int32) RetCode
}
