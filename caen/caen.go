// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package caen drives a CAEN x730 digitizer running the DPP-PHA firmware
// through the CAENDPPLib native library.
//
// A Controller owns the single library handle of the process, pushes whole
// DgtzParams configuration blocks to the board and manages the per-channel
// start/stop/read acquisition lifecycle.
package caen // import "github.com/go-lpc/rbs/caen"

const (
	MaxNumChB      = 16            // max number of channels per board
	MaxNumCoinc    = MaxNumChB + 1 // coincidence blocks, one per channel plus the external one
	MaxGW          = 1000          // max number of generic register writes
	MaxListFileLen = 155           // size of the list-mode file name buffer
	ethAddrLen     = 256           // size of the ethernet address buffer
	NumBins        = 1 << 14       // number of histogram bins

	defaultNChans = 8 // number of input channels of an x730 board
)
