// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a Controller.
type State int

const (
	StateNew State = iota
	StateOpen
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateNew:
		return "new"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

// Controller drives a single board through a native Library.
//
// All native calls are serialized and bounded by the controller timeout.
// A Controller must be opened before use and closed once done.
type Controller struct {
	lib  Library
	cfg  config
	sema chan struct{} // serializes native calls

	// fields below are only modified with sema held.

	mu      sync.RWMutex // protects state and running for the query methods
	state   State
	running []bool

	handle int32
	board  int32
	conn   ConnectionParams
	params *DgtzParams // last configuration accepted by the board
}

// New creates a new, not yet opened, controller using the provided
// native library.
func New(lib Library, opts ...Option) *Controller {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller{
		lib:    lib,
		cfg:    cfg,
		sema:   make(chan struct{}, 1),
		handle: -1,
		board:  -1,
	}
}

// Open creates a new controller and opens the board described by cp.
func Open(lib Library, cp ConnectionParams, opts ...Option) (*Controller, error) {
	ctl := New(lib, opts...)
	err := ctl.Open(cp)
	if err != nil {
		return nil, err
	}
	return ctl, nil
}

// call is a native call which may be abandoned by its caller on timeout.
type call struct {
	mu        sync.Mutex
	settled   bool
	abandoned bool
}

// settle reports whether the caller still waits for the result of the call.
// Once settled, the call can not be abandoned anymore and its result must
// be committed to the controller.
// A call which could not be settled must undo its effects on the board.
func (c *call) settle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return false
	}
	c.settled = true
	return true
}

// abandon marks the call as abandoned, unless it was already settled.
func (c *call) abandon() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return false
	}
	c.abandoned = true
	return true
}

// do runs fn with the native library lock held.
// do returns ErrTimeout if the lock could not be acquired or fn did not
// settle within the controller timeout. The lock is released once fn
// returns, even after a timeout.
//
// An abandoned fn undoes what it acquired on the board (an opened library,
// a started channel). Stopping and configuring are recorded even when
// abandoned, so the controller keeps mirroring the board.
func (ctl *Controller) do(fn func(c *call) error) error {
	if ctl.sema == nil {
		return ErrNotOpen
	}

	timer := time.NewTimer(ctl.cfg.timeout)
	defer timer.Stop()

	select {
	case ctl.sema <- struct{}{}:
	case <-timer.C:
		return ErrTimeout
	}

	var (
		c    = new(call)
		done = make(chan error, 1)
	)
	go func() {
		defer func() { <-ctl.sema }()
		done <- fn(c)
	}()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		if !c.abandon() {
			return <-done
		}
		ctl.cfg.msg.Errorf("native call did not complete within %v", ctl.cfg.timeout)
		return ErrTimeout
	}
}

// check verifies the controller is open. It must be called with the lock held.
func (ctl *Controller) check() error {
	switch ctl.state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotOpen
	}
}

func (ctl *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= len(ctl.running) {
		return fmt.Errorf("%w (ch=%d, nchans=%d)", ErrChannelOutOfRange, ch, len(ctl.running))
	}
	return nil
}

func (ctl *Controller) fail(op Op, ch int, rc RetCode) error {
	if ch < 0 {
		ctl.cfg.msg.Errorf("%v failed: rc=%d: %s", op, int32(rc), ErrorText(rc))
	} else {
		ctl.cfg.msg.Errorf("%v failed (ch=%d): rc=%d: %s", op, ch, int32(rc), ErrorText(rc))
	}
	return opError(op, ch, rc)
}

func (ctl *Controller) setState(st State) {
	ctl.mu.Lock()
	ctl.state = st
	ctl.mu.Unlock()
}

func (ctl *Controller) setRunning(ch int, v bool) {
	ctl.mu.Lock()
	ctl.running[ch] = v
	ctl.mu.Unlock()
}

// Open initializes the native library, adds the board described by cp
// and pushes the default configuration to it.
//
// On failure, including a timeout, the library is released and Open may
// be retried.
func (ctl *Controller) Open(cp ConnectionParams) error {
	return ctl.do(func(c *call) error {
		switch ctl.state {
		case StateOpen:
			return fmt.Errorf("caen: controller already open: %w", ErrInvalidState)
		case StateClosed:
			return ErrClosed
		}
		if n := ctl.cfg.nchans; n <= 0 || n > MaxNumChB {
			return fmt.Errorf("%w: invalid number of channels %d", ErrInvalidConfig, n)
		}

		msg := ctl.cfg.msg
		msg.Debugf("init library...")
		handle, rc := ctl.lib.InitLibrary()
		if rc != Success {
			return ctl.fail(OpInitLibrary, -1, rc)
		}

		msg.Debugf("add board %v...", cp)
		board, rc := ctl.lib.AddBoard(handle, cp)
		if rc != Success {
			err := ctl.fail(OpAddBoard, -1, rc)
			ctl.endLibrary(handle)
			return err
		}

		params := NewDgtzParams()
		rc = ctl.lib.SetBoardConfiguration(handle, board, ctl.cfg.mode, params)
		if rc != Success {
			err := ctl.fail(OpSetConfig, -1, rc)
			ctl.endLibrary(handle)
			return err
		}

		if !c.settle() {
			msg.Warnf("board %v opened after timeout: releasing library", cp)
			ctl.endLibrary(handle)
			return ErrTimeout
		}

		ctl.handle = handle
		ctl.board = board
		ctl.conn = cp
		ctl.params = params

		ctl.mu.Lock()
		ctl.running = make([]bool, ctl.cfg.nchans)
		ctl.state = StateOpen
		ctl.mu.Unlock()

		msg.Infof("board %d opened with %v (handle=%d)", board, cp, handle)
		return nil
	})
}

func (ctl *Controller) endLibrary(handle int32) {
	rc := ctl.lib.EndLibrary(handle)
	if rc != Success {
		ctl.cfg.msg.Errorf("could not end library (handle=%d): rc=%d: %s", handle, int32(rc), ErrorText(rc))
	}
}

// SetDefaultConfig pushes the default configuration to the board.
func (ctl *Controller) SetDefaultConfig() error {
	return ctl.SetConfig(NewDgtzParams())
}

// SetConfig validates p and pushes it to the board.
//
// The configuration can not be changed while a channel is acquiring.
func (ctl *Controller) SetConfig(p *DgtzParams) error {
	return ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: nil parameters", ErrInvalidConfig)
		}
		err = p.Validate()
		if err != nil {
			ctl.cfg.msg.Errorf("invalid configuration: %+v", err)
			return &OpError{Op: OpSetConfig, Channel: -1, Err: err}
		}
		for ch, run := range ctl.running {
			if run {
				return fmt.Errorf("caen: could not configure board while channel %d is running: %w", ch, ErrInvalidState)
			}
		}

		params := new(DgtzParams)
		*params = *p
		rc := ctl.lib.SetBoardConfiguration(ctl.handle, ctl.board, ctl.cfg.mode, params)
		if rc != Success {
			return ctl.fail(OpSetConfig, -1, rc)
		}
		ctl.params = params
		ctl.cfg.msg.Infof("board %d configured (mode=%v, channel-mask=0x%x)", ctl.board, ctl.cfg.mode, p.ChannelMask)
		return nil
	})
}

// Config returns a copy of the last configuration accepted by the board.
func (ctl *Controller) Config() (*DgtzParams, error) {
	var p *DgtzParams
	err := ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		p = new(DgtzParams)
		*p = *ctl.params
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// BoardConfig reads the configuration back from the board.
func (ctl *Controller) BoardConfig() (*DgtzParams, AcqMode, error) {
	var (
		p    = new(DgtzParams)
		mode AcqMode
	)
	err := ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		var rc RetCode
		mode, rc = ctl.lib.GetBoardConfiguration(ctl.handle, ctl.board, p)
		if rc != Success {
			return ctl.fail(OpGetConfig, -1, rc)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return p, mode, nil
}

// ConnectionParams returns the connection parameters of the opened board.
func (ctl *Controller) ConnectionParams() (ConnectionParams, error) {
	var cp ConnectionParams
	err := ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		cp = ctl.conn
		return nil
	})
	if err != nil {
		return ConnectionParams{}, err
	}
	return cp, nil
}

// StartAcquisition starts the acquisition on channel ch.
//
// Starting an already running channel fails with ErrInvalidState.
func (ctl *Controller) StartAcquisition(ch int) error {
	return ctl.do(func(c *call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		err = ctl.checkChannel(ch)
		if err != nil {
			return err
		}
		if ctl.running[ch] {
			return fmt.Errorf("caen: channel %d already running: %w", ch, ErrInvalidState)
		}

		rc := ctl.lib.StartAcquisition(ctl.handle, int32(ch))
		if rc != Success {
			return ctl.fail(OpStart, ch, rc)
		}
		if !c.settle() {
			ctl.cfg.msg.Warnf("acquisition started after timeout (ch=%d): stopping", ch)
			rc = ctl.lib.StopAcquisition(ctl.handle, int32(ch))
			if rc != Success {
				// the board still acquires: track it so Close stops it.
				ctl.setRunning(ch, true)
				return ctl.fail(OpStop, ch, rc)
			}
			return ErrTimeout
		}
		ctl.setRunning(ch, true)
		ctl.cfg.msg.Infof("acquisition started (ch=%d)", ch)
		return nil
	})
}

// StopAcquisition stops the acquisition on channel ch.
// The last histogram of the channel can still be retrieved afterwards.
func (ctl *Controller) StopAcquisition(ch int) error {
	return ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		err = ctl.checkChannel(ch)
		if err != nil {
			return err
		}

		rc := ctl.lib.StopAcquisition(ctl.handle, int32(ch))
		if rc != Success {
			return ctl.fail(OpStop, ch, rc)
		}
		ctl.setRunning(ch, false)
		ctl.cfg.msg.Infof("acquisition stopped (ch=%d)", ch)
		return nil
	})
}

// GetHistogram returns the current histogram of channel ch.
// GetHistogram does not modify the acquisition state of the channel.
func (ctl *Controller) GetHistogram(ch int) (*Histogram, error) {
	var h *Histogram
	err := ctl.do(func(*call) error {
		err := ctl.check()
		if err != nil {
			return err
		}
		err = ctl.checkChannel(ch)
		if err != nil {
			return err
		}

		h = &Histogram{Channel: ch}
		rc := ctl.lib.GetCurrentHistogram(ctl.handle, int32(ch), h)
		if rc != Success {
			h = nil
			return ctl.fail(OpGetHistogram, ch, rc)
		}
		ctl.cfg.msg.Debugf(
			"histogram (ch=%d): total=%d real=%v dead=%v status=%v",
			ch, h.Total, time.Duration(h.RealTime), time.Duration(h.DeadTime), h.Status,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// State returns the lifecycle state of the controller.
func (ctl *Controller) State() State {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return ctl.state
}

// Running reports whether channel ch is acquiring.
func (ctl *Controller) Running(ch int) bool {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	if ch < 0 || ch >= len(ctl.running) {
		return false
	}
	return ctl.running[ch]
}

// NumChannels returns the number of acquisition channels of the controller.
func (ctl *Controller) NumChannels() int {
	return ctl.cfg.nchans
}

// Close stops all running channels and releases the native library.
// Closing an already closed controller is a no-op.
func (ctl *Controller) Close() error {
	if ctl == nil || ctl.sema == nil {
		return nil
	}
	return ctl.do(func(*call) error {
		switch ctl.state {
		case StateClosed:
			return nil
		case StateNew:
			ctl.setState(StateClosed)
			return nil
		}

		for ch, run := range ctl.running {
			if !run {
				continue
			}
			rc := ctl.lib.StopAcquisition(ctl.handle, int32(ch))
			if rc != Success {
				_ = ctl.fail(OpStop, ch, rc)
				continue
			}
			ctl.setRunning(ch, false)
		}

		rc := ctl.lib.EndLibrary(ctl.handle)
		ctl.mu.Lock()
		ctl.state = StateClosed
		for ch := range ctl.running {
			ctl.running[ch] = false
		}
		ctl.mu.Unlock()
		ctl.handle = -1
		ctl.board = -1
		if rc != Success {
			return ctl.fail(OpEndLibrary, -1, rc)
		}
		ctl.cfg.msg.Infof("library closed")
		return nil
	})
}
