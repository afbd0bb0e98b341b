// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build caendpp

package caen

//#cgo CFLAGS: -g -Wall -DLINUX
//#cgo LDFLAGS: -lCAENDPPLib
//
//#include <stdint.h>
//#include <stdlib.h>
//#include <CAENDPPLib.h>
import "C"

import (
	"fmt"
	"unsafe"
)

// clib is the Library backed by the vendor CAENDPPLib shared library.
type clib struct{}

var _ Library = (*clib)(nil)

// NewLibrary returns the native CAENDPPLib library.
//
// NewLibrary checks the memory layout of the exchanged structures matches
// the one of the vendor headers.
func NewLibrary() (Library, error) {
	for _, v := range []struct {
		name string
		gosz uintptr
		csz  uintptr
	}{
		{"ConnectionParams", unsafe.Sizeof(ConnectionParams{}), C.sizeof_CAENDPP_ConnectionParams_t},
		{"DgtzParams", unsafe.Sizeof(DgtzParams{}), C.sizeof_CAENDPP_DgtzParams_t},
		{"ListParams", unsafe.Sizeof(ListParams{}), C.sizeof_CAENDPP_ListParams_t},
		{"PHAParams", unsafe.Sizeof(PHAParams{}), C.sizeof_CAENDPP_PHA_Params_t},
	} {
		if v.gosz != v.csz {
			return nil, fmt.Errorf(
				"caen: invalid %s layout (go=%d, c=%d)",
				v.name, v.gosz, v.csz,
			)
		}
	}
	return &clib{}, nil
}

func (*clib) InitLibrary() (int32, RetCode) {
	var handle C.int32_t
	rc := C.CAENDPP_InitLibrary(&handle)
	return int32(handle), RetCode(rc)
}

func (*clib) AddBoard(handle int32, cp ConnectionParams) (int32, RetCode) {
	var board C.int32_t
	rc := C.CAENDPP_AddBoard(
		C.int32_t(handle),
		*(*C.CAENDPP_ConnectionParams_t)(unsafe.Pointer(&cp)),
		&board,
	)
	return int32(board), RetCode(rc)
}

func (*clib) SetBoardConfiguration(handle, board int32, mode AcqMode, p *DgtzParams) RetCode {
	rc := C.CAENDPP_SetBoardConfiguration(
		C.int32_t(handle), C.int32_t(board),
		C.CAENDPP_AcqMode_t(mode),
		*(*C.CAENDPP_DgtzParams_t)(unsafe.Pointer(p)),
	)
	return RetCode(rc)
}

func (*clib) GetBoardConfiguration(handle, board int32, p *DgtzParams) (AcqMode, RetCode) {
	var mode C.CAENDPP_AcqMode_t
	rc := C.CAENDPP_GetBoardConfiguration(
		C.int32_t(handle), C.int32_t(board),
		&mode,
		(*C.CAENDPP_DgtzParams_t)(unsafe.Pointer(p)),
	)
	return AcqMode(mode), RetCode(rc)
}

func (*clib) StartAcquisition(handle, ch int32) RetCode {
	rc := C.CAENDPP_StartAcquisition(C.int32_t(handle), C.int32_t(ch))
	return RetCode(rc)
}

func (*clib) StopAcquisition(handle, ch int32) RetCode {
	rc := C.CAENDPP_StopAcquisition(C.int32_t(handle), C.int32_t(ch))
	return RetCode(rc)
}

func (*clib) GetCurrentHistogram(handle, ch int32, h *Histogram) RetCode {
	var (
		total  C.uint32_t
		rtime  C.uint64_t
		dtime  C.uint64_t
		status C.CAENDPP_AcqStatus_t
	)
	rc := C.CAENDPP_GetCurrentHistogram(
		C.int32_t(handle), C.int32_t(ch),
		unsafe.Pointer(&h.Counts[0]),
		&total, &rtime, &dtime, &status,
	)
	h.Total = uint32(total)
	h.RealTime = uint64(rtime)
	h.DeadTime = uint64(dtime)
	h.Status = AcqStatus(status)
	return RetCode(rc)
}

func (*clib) EndLibrary(handle int32) RetCode {
	rc := C.CAENDPP_EndLibrary(C.int32_t(handle))
	return RetCode(rc)
}
