// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/spectrum"
)

func newServer(t *testing.T) (*Server, *caen.Controller) {
	t.Helper()

	msg := log.NewMsgStream("monitor", log.LvlError, io.Discard)

	sim := caen.NewSimulator(1234)
	sim.SetPeaks(0, caen.Peak{Mean: 1000, Sigma: 3, Rate: 20})

	ctl, err := caen.Open(sim, caen.ConnectionParams{LinkType: caen.USB}, caen.WithMsgStream(msg))
	if err != nil {
		t.Fatalf("could not open controller: %+v", err)
	}

	err = ctl.StartAcquisition(0)
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}
	h, err := ctl.GetHistogram(0)
	if err != nil {
		t.Fatalf("could not get histogram: %+v", err)
	}

	spectra := []*spectrum.Spectrum{spectrum.New(0), spectrum.New(1)}
	err = spectra[0].Update(h)
	if err != nil {
		t.Fatalf("could not update spectrum: %+v", err)
	}

	return New(ctl, spectra, msg), ctl
}

func TestStatus(t *testing.T) {
	srv, ctl := newServer(t)
	defer ctl.Close()

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got, want := w.Code, http.StatusOK; got != want {
		t.Fatalf("invalid status code: got=%d, want=%d", got, want)
	}

	var st Status
	err := json.NewDecoder(w.Body).Decode(&st)
	if err != nil {
		t.Fatalf("could not decode status: %+v", err)
	}
	if got, want := st.State, "open"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if got, want := len(st.Channels), 2; got != want {
		t.Fatalf("invalid number of channels: got=%d, want=%d", got, want)
	}
	if ch := st.Channels[0]; ch.Channel != 0 || !ch.Running || ch.Total != 20 {
		t.Fatalf("invalid channel-0 status: %+v", ch)
	}
	if ch := st.Channels[1]; ch.Channel != 1 || ch.Running || ch.Total != 0 {
		t.Fatalf("invalid channel-1 status: %+v", ch)
	}
	if !strings.HasPrefix(st.Board, "usb[") {
		t.Fatalf("invalid board: %q", st.Board)
	}
}

func TestHisto(t *testing.T) {
	srv, ctl := newServer(t)
	defer ctl.Close()

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/histo/0", http.StatusOK},
		{"/histo/1", http.StatusOK},
		{"/histo/2", http.StatusNotFound},
		{"/histo/zero", http.StatusBadRequest},
		{"/histo/0/yoda", http.StatusOK},
		{"/histo/5/yoda", http.StatusNotFound},
	} {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if got, want := w.Code, tc.code; got != want {
				t.Fatalf("invalid status code: got=%d, want=%d", got, want)
			}
		})
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/histo/0", nil))
	var h Histo
	err := json.NewDecoder(w.Body).Decode(&h)
	if err != nil {
		t.Fatalf("could not decode histo: %+v", err)
	}
	if got, want := len(h.X), spectrum.NumBins; got != want {
		t.Fatalf("invalid x length: got=%d, want=%d", got, want)
	}
	if got, want := len(h.Y), spectrum.NumBins; got != want {
		t.Fatalf("invalid y length: got=%d, want=%d", got, want)
	}
	if got, want := h.Total, uint32(20); got != want {
		t.Fatalf("invalid total: got=%d, want=%d", got, want)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/histo/0/yoda", nil))
	if !strings.Contains(w.Body.String(), "BEGIN YODA_HISTO1D") {
		t.Fatalf("invalid YODA output")
	}
}

func TestCalib(t *testing.T) {
	srv, ctl := newServer(t)
	defer ctl.Close()

	for _, tc := range []struct {
		path string
		body string
		code int
	}{
		{"/calib/0", `{"slope": 2.5, "offset": 12}`, http.StatusOK},
		{"/calib/0", `{"slope": `, http.StatusBadRequest},
		{"/calib/3", `{"slope": 1, "offset": 0}`, http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPut, tc.path, strings.NewReader(tc.body)))
		if got, want := w.Code, tc.code; got != want {
			t.Fatalf("%s %s: invalid status code: got=%d, want=%d", tc.path, tc.body, got, want)
		}
	}

	if got, want := srv.spectra[0].Calibration(), (spectrum.Calibration{Slope: 2.5, Offset: 12}); got != want {
		t.Fatalf("invalid calibration: got=%+v, want=%+v", got, want)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/histo/0", nil))
	var h Histo
	err := json.NewDecoder(w.Body).Decode(&h)
	if err != nil {
		t.Fatalf("could not decode histo: %+v", err)
	}
	if got, want := h.X[10], 2.5*10+12; got != want {
		t.Fatalf("invalid calibrated x: got=%v, want=%v", got, want)
	}
}
