// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

type config struct {
	timeout time.Duration // timeout of a native call, lock acquisition included
	nchans  int           // number of acquisition channels
	mode    AcqMode       // acquisition mode used when pushing configurations
	msg     log.MsgStream
}

func newConfig() config {
	return config{
		timeout: 5 * time.Second,
		nchans:  defaultNChans,
		mode:    AcqModeHistogram,
		msg:     log.NewMsgStream("caen", log.LvlInfo, os.Stdout),
	}
}

// Option configures a Controller.
type Option func(*config)

// WithTimeout sets the maximum duration of a controller operation.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = timeout
	}
}

// WithChannels sets the number of acquisition channels of the board.
func WithChannels(n int) Option {
	return func(cfg *config) {
		cfg.nchans = n
	}
}

// WithAcqMode sets the acquisition mode used when pushing configurations.
func WithAcqMode(mode AcqMode) Option {
	return func(cfg *config) {
		cfg.mode = mode
	}
}

// WithMsgStream sets the message stream used to log controller operations.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
