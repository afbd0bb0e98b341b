// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"errors"
	"testing"
)

func TestErrorText(t *testing.T) {
	for _, tc := range []struct {
		code RetCode
		want string
	}{
		{-100, "Unspecified error"},
		{-101, "Too many instances"},
		{-102, "Process fail"},
		{-103, "Read fail"},
		{-104, "Write fail"},
		{-105, "Invalid response"},
		{-106, "Invalid library handle"},
		{-107, "Configuration error"},
		{-108, "Board Init fail"},
		{-109, "Timeout error"},
		{-110, "Invalid parameter"},
		{-111, "Not in Waveforms Mode"},
		{-112, "Not in Histogram Mode"},
		{-113, "Not in List Mode"},
		{-114, "Not yet implemented"},
		{-115, "Board not configured"},
		{-116, "Invalid board index"},
		{-117, "Invalid channel index"},
		{-118, "Invalid board firmware"},
		{-119, "No board added"},
		{-120, "Acquisition Status is not compliant with the function called"},
		{-121, "Out of memory"},
		{-122, "Invalid board channel index"},
		{-123, "No valid histogram allocated"},
		{-124, "Error opening the list dumper"},
		{-125, "Error starting acquisition for a board"},
		{-126, "The given channel is not enabled"},
		{-127, "Invalid command"},
		{-128, "Invalid number of bins"},
		{-129, "Invalid Histogram Index"},
		{-130, "The feature is not supported by the gve board/channel"},
		{-131, "The given histogram is an invalid state (ex. 'done' while it shouldn't)"},
		{-132, "Cannot switch to ext histo, no more histograms available"},
		{-133, "The selected board doesn't support HV Channels"},
		{-134, "Invalid HV channel index"},
		{-135, "Error Sending Message through Socket"},
		{-136, "Error Receiving Message from Socket"},
		{-137, "Cannot get Board's acquisition thread"},
		{-138, "Cannot decode waveform from buffer"},
		{-139, "Error Opening the digitizer"},
		{-140, "Requested a feature incompatible with board's Manufacture"},
		{-141, "Autoset Status is not compliant with the requested feature"},
		{-142, "Autoset error looking for signal parameters"},
		// unknown codes
		{-1, "Unknown"},
		{-99, "Unknown"},
		{-143, "Unknown"},
		{-1000, "Unknown"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got, want := ErrorText(tc.code), tc.want; got != want {
				t.Fatalf("invalid text for rc=%d:\ngot= %q\nwant=%q", tc.code, got, want)
			}
		})
	}

	if got, want := len(errTexts), 43; got != want {
		t.Fatalf("invalid number of known codes: got=%d, want=%d", got, want)
	}
}

func TestRetCodeError(t *testing.T) {
	var err error = RCInvalidChannelIndex
	if got, want := err.Error(), "Invalid channel index (rc=-117)"; got != want {
		t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, want)
	}

	for _, tc := range []struct {
		code RetCode
		want bool
	}{
		{RCAcquisitionRunning, true},
		{RCBadHistoState, true},
		{RCGeneric, false},
		{RCInvalidChannelIndex, false},
	} {
		err := &OpError{Op: OpStart, Channel: 1, Err: tc.code}
		if got, want := errors.Is(err, ErrInvalidState), tc.want; got != want {
			t.Errorf("rc=%d: invalid-state match: got=%v, want=%v", tc.code, got, want)
		}
		code, ok := err.Code()
		if !ok || code != tc.code {
			t.Errorf("rc=%d: invalid code: got=%d (ok=%v)", tc.code, code, ok)
		}
	}
}
