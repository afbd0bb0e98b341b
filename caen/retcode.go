// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import "fmt"

// RetCode is a status code returned by the CAENDPPLib functions.
//
// A zero RetCode denotes success, negative values are failures.
type RetCode int32

const (
	Success RetCode = 0

	RCGeneric             RetCode = -100
	RCTooManyInstances    RetCode = -101
	RCProcessFail         RetCode = -102
	RCReadFail            RetCode = -103
	RCWriteFail           RetCode = -104
	RCBadMessage          RetCode = -105
	RCInvalidHandle       RetCode = -106
	RCConfig              RetCode = -107
	RCBoardInitFail       RetCode = -108
	RCTimeout             RetCode = -109
	RCInvalidParameter    RetCode = -110
	RCNotInWaveMode       RetCode = -111
	RCNotInHistoMode      RetCode = -112
	RCNotInListMode       RetCode = -113
	RCNotYetImplemented   RetCode = -114
	RCBoardNotConfigured  RetCode = -115
	RCInvalidBoardIndex   RetCode = -116
	RCInvalidChannelIndex RetCode = -117
	RCUnsupportedFirmware RetCode = -118
	RCNoBoardsAdded       RetCode = -119
	RCAcquisitionRunning  RetCode = -120
	RCOutOfMemory         RetCode = -121
	RCBoardChannelIndex   RetCode = -122
	RCHistoAlloc          RetCode = -123
	RCOpenDumper          RetCode = -124
	RCBoardAcqStart       RetCode = -125
	RCChannelNotEnabled   RetCode = -126
	RCInvalidCommand      RetCode = -127
	RCNumBins             RetCode = -128
	RCHistoIndex          RetCode = -129
	RCUnsupportedFeature  RetCode = -130
	RCBadHistoState       RetCode = -131
	RCNoMoreHistograms    RetCode = -132
	RCNotHVBoard          RetCode = -133
	RCInvalidHVChannel    RetCode = -134
	RCSocketSend          RetCode = -135
	RCSocketReceive       RetCode = -136
	RCBoardThread         RetCode = -137
	RCDecodeWaveform      RetCode = -138
	RCOpenDigitizer       RetCode = -139
	RCBoardModel          RetCode = -140
	RCAutosetStatus       RetCode = -141
	RCAutoset             RetCode = -142
)

var errTexts = map[RetCode]string{
	RCGeneric:             "Unspecified error",
	RCTooManyInstances:    "Too many instances",
	RCProcessFail:         "Process fail",
	RCReadFail:            "Read fail",
	RCWriteFail:           "Write fail",
	RCBadMessage:          "Invalid response",
	RCInvalidHandle:       "Invalid library handle",
	RCConfig:              "Configuration error",
	RCBoardInitFail:       "Board Init fail",
	RCTimeout:             "Timeout error",
	RCInvalidParameter:    "Invalid parameter",
	RCNotInWaveMode:       "Not in Waveforms Mode",
	RCNotInHistoMode:      "Not in Histogram Mode",
	RCNotInListMode:       "Not in List Mode",
	RCNotYetImplemented:   "Not yet implemented",
	RCBoardNotConfigured:  "Board not configured",
	RCInvalidBoardIndex:   "Invalid board index",
	RCInvalidChannelIndex: "Invalid channel index",
	RCUnsupportedFirmware: "Invalid board firmware",
	RCNoBoardsAdded:       "No board added",
	RCAcquisitionRunning:  "Acquisition Status is not compliant with the function called",
	RCOutOfMemory:         "Out of memory",
	RCBoardChannelIndex:   "Invalid board channel index",
	RCHistoAlloc:          "No valid histogram allocated",
	RCOpenDumper:          "Error opening the list dumper",
	RCBoardAcqStart:       "Error starting acquisition for a board",
	RCChannelNotEnabled:   "The given channel is not enabled",
	RCInvalidCommand:      "Invalid command",
	RCNumBins:             "Invalid number of bins",
	RCHistoIndex:          "Invalid Histogram Index",
	RCUnsupportedFeature:  "The feature is not supported by the gve board/channel",
	RCBadHistoState:       "The given histogram is an invalid state (ex. 'done' while it shouldn't)",
	RCNoMoreHistograms:    "Cannot switch to ext histo, no more histograms available",
	RCNotHVBoard:          "The selected board doesn't support HV Channels",
	RCInvalidHVChannel:    "Invalid HV channel index",
	RCSocketSend:          "Error Sending Message through Socket",
	RCSocketReceive:       "Error Receiving Message from Socket",
	RCBoardThread:         "Cannot get Board's acquisition thread",
	RCDecodeWaveform:      "Cannot decode waveform from buffer",
	RCOpenDigitizer:       "Error Opening the digitizer",
	RCBoardModel:          "Requested a feature incompatible with board's Manufacture",
	RCAutosetStatus:       "Autoset Status is not compliant with the requested feature",
	RCAutoset:             "Autoset error looking for signal parameters",
}

// ErrorText returns the description of a native status code.
// Codes outside of the known set are described as "Unknown".
func ErrorText(code RetCode) string {
	txt, ok := errTexts[code]
	if !ok {
		return "Unknown"
	}
	return txt
}

func (rc RetCode) Error() string {
	return fmt.Sprintf("%s (rc=%d)", ErrorText(rc), int32(rc))
}

// Is reports whether the status code denotes a request that is not
// compatible with the current acquisition state.
func (rc RetCode) Is(target error) bool {
	switch rc {
	case RCAcquisitionRunning, RCBadHistoState:
		return target == ErrInvalidState
	}
	return false
}

// Text returns the description of the status code.
func (rc RetCode) Text() string { return ErrorText(rc) }
