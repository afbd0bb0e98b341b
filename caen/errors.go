// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"errors"
	"fmt"
)

var (
	ErrNotOpen           = errors.New("caen: controller not open")
	ErrClosed            = errors.New("caen: controller closed")
	ErrInvalidState      = errors.New("caen: invalid acquisition state")
	ErrChannelOutOfRange = errors.New("caen: channel out of range")
	ErrInvalidConfig     = errors.New("caen: invalid configuration")
	ErrTimeout           = errors.New("caen: native call timed out")
)

// Op identifies the controller step that failed.
type Op int

const (
	OpInitLibrary Op = iota + 1
	OpAddBoard
	OpSetConfig
	OpGetConfig
	OpStart
	OpStop
	OpGetHistogram
	OpEndLibrary
)

func (op Op) String() string {
	switch op {
	case OpInitLibrary:
		return "init-library"
	case OpAddBoard:
		return "add-board"
	case OpSetConfig:
		return "set-config"
	case OpGetConfig:
		return "get-config"
	case OpStart:
		return "start-acquisition"
	case OpStop:
		return "stop-acquisition"
	case OpGetHistogram:
		return "get-histogram"
	case OpEndLibrary:
		return "end-library"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// OpError describes a failed controller operation.
//
// Err is usually a RetCode carrying the native status code.
type OpError struct {
	Op      Op
	Channel int // acquisition channel, -1 for board-wide operations
	Err     error
}

func (e *OpError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("caen: could not %v: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("caen: could not %v (ch=%d): %v", e.Op, e.Channel, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Code returns the native status code of the failure, if any.
func (e *OpError) Code() (RetCode, bool) {
	var rc RetCode
	ok := errors.As(e.Err, &rc)
	return rc, ok
}

func opError(op Op, ch int, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Channel: ch, Err: err}
}
