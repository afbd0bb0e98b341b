// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor serves the state of an acquisition and its spectra
// over HTTP.
//
// The following routes are exposed:
//
//	GET /status           board state and per-channel counters
//	GET /histo/{ch}       calibrated spectrum of channel ch, as JSON
//	GET /histo/{ch}/yoda  calibrated spectrum of channel ch, as YODA
//	PUT /calib/{ch}       set the calibration of channel ch
package monitor // import "github.com/go-lpc/rbs/monitor"

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/spectrum"
)

// Status describes the board and its channels.
type Status struct {
	State    string          `json:"state"`
	Board    string          `json:"board,omitempty"`
	Channels []ChannelStatus `json:"channels"`
}

// ChannelStatus describes an acquisition channel.
type ChannelStatus struct {
	Channel  int                  `json:"channel"`
	Running  bool                 `json:"running"`
	Total    uint32               `json:"total"`
	RealTime float64              `json:"real_time"` // in seconds
	DeadTime float64              `json:"dead_time"` // in seconds
	Calib    spectrum.Calibration `json:"calib"`
}

// Histo is the JSON representation of a calibrated spectrum.
type Histo struct {
	Channel int                  `json:"channel"`
	Total   uint32               `json:"total"`
	Calib   spectrum.Calibration `json:"calib"`
	X       []float64            `json:"x"`
	Y       []uint32             `json:"y"`
}

// Server is an http.Handler exposing a board and its spectra.
type Server struct {
	ctl     *caen.Controller
	spectra map[int]*spectrum.Spectrum
	msg     log.MsgStream
	mux     chi.Router
}

// New creates a monitoring server for the board driven by ctl.
// spectra holds the spectrum of each acquisition channel.
func New(ctl *caen.Controller, spectra []*spectrum.Spectrum, msg log.MsgStream) *Server {
	srv := &Server{
		ctl:     ctl,
		spectra: make(map[int]*spectrum.Spectrum, len(spectra)),
		msg:     msg,
	}
	for _, s := range spectra {
		srv.spectra[s.Channel()] = s
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/status", srv.handleStatus)
	mux.Route("/histo/{ch}", func(r chi.Router) {
		r.Get("/", srv.handleHisto)
		r.Get("/yoda", srv.handleYODA)
	})
	mux.Put("/calib/{ch}", srv.handleCalib)
	srv.mux = mux

	return srv
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

func (srv *Server) spectrum(w http.ResponseWriter, r *http.Request) (*spectrum.Spectrum, bool) {
	ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid channel %q", chi.URLParam(r, "ch")), http.StatusBadRequest)
		return nil, false
	}
	s, ok := srv.spectra[ch]
	if !ok {
		http.Error(w, fmt.Sprintf("no spectrum for channel %d", ch), http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		State:    srv.ctl.State().String(),
		Channels: make([]ChannelStatus, 0, len(srv.spectra)),
	}
	if conn, err := srv.ctl.ConnectionParams(); err == nil {
		st.Board = conn.String()
	}

	for ch, s := range srv.spectra {
		rt, dt := s.Times()
		st.Channels = append(st.Channels, ChannelStatus{
			Channel:  ch,
			Running:  srv.ctl.Running(ch),
			Total:    s.Total(),
			RealTime: rt.Seconds(),
			DeadTime: dt.Seconds(),
			Calib:    s.Calibration(),
		})
	}
	sort.Slice(st.Channels, func(i, j int) bool {
		return st.Channels[i].Channel < st.Channels[j].Channel
	})

	srv.reply(w, st)
}

func (srv *Server) handleHisto(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.spectrum(w, r)
	if !ok {
		return
	}
	srv.reply(w, Histo{
		Channel: s.Channel(),
		Total:   s.Total(),
		Calib:   s.Calibration(),
		X:       s.CalX(),
		Y:       s.Y(),
	})
}

func (srv *Server) handleYODA(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.spectrum(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err := s.WriteYODA(w)
	if err != nil {
		srv.msg.Errorf("could not write YODA spectrum of channel %d: %+v", s.Channel(), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (srv *Server) handleCalib(w http.ResponseWriter, r *http.Request) {
	s, ok := srv.spectrum(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var calib spectrum.Calibration
	err := json.NewDecoder(r.Body).Decode(&calib)
	if err != nil {
		http.Error(w, fmt.Sprintf("could not decode calibration: %+v", err), http.StatusBadRequest)
		return
	}
	err = s.SetCalibration(calib)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	srv.msg.Infof("channel %d: calibration set to slope=%v offset=%v", s.Channel(), calib.Slope, calib.Offset)
	srv.reply(w, s.Calibration())
}

func (srv *Server) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		srv.msg.Errorf("could not encode reply: %+v", err)
	}
}
