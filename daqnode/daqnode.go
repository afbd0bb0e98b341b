// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daqnode exposes a CAEN x730 board as a TDAQ run-control node.
//
// The node answers the /config, /init, /start, /stop and /quit commands
// and publishes the histograms of the acquiring channels on its /histo
// output.
package daqnode // import "github.com/go-lpc/rbs/daqnode"

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/rbs/caen"
)

// Server is a TDAQ node driving one board.
type Server struct {
	newLib func() (caen.Library, error)
	conn   caen.ConnectionParams
	opts   []caen.Option
	freq   time.Duration

	mu     sync.Mutex
	ctl    *caen.Controller
	params *caen.DgtzParams
	chans  []int // channels acquiring during a run
	histos chan []byte
	n      int // number of published histograms
}

// New creates a node for the board described by conn.
// freq is the period at which histograms are read out during a run.
func New(newLib func() (caen.Library, error), conn caen.ConnectionParams, freq time.Duration, opts ...caen.Option) *Server {
	return &Server{
		newLib: newLib,
		conn:   conn,
		opts:   opts,
		freq:   freq,
		histos: make(chan []byte, 64),
	}
}

// OnConfig reads the board configuration from the JSON request body.
// An empty body selects the default configuration.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	params := caen.NewDgtzParams()
	if len(bytes.TrimSpace(req.Body)) != 0 {
		err := json.Unmarshal(req.Body, params)
		if err != nil {
			ctx.Msg.Errorf("could not decode configuration: %+v", err)
			return fmt.Errorf("could not decode configuration: %w", err)
		}
	}
	err := params.Validate()
	if err != nil {
		ctx.Msg.Errorf("invalid configuration: %+v", err)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.ctl != nil {
		err = srv.ctl.SetConfig(params)
		if err != nil {
			ctx.Msg.Errorf("could not configure board: %+v", err)
			return fmt.Errorf("could not configure board: %w", err)
		}
	}
	srv.params = params
	srv.chans = srv.channels(params)

	return nil
}

func (srv *Server) channels(p *caen.DgtzParams) []int {
	nchans := caen.MaxNumChB
	if srv.ctl != nil {
		nchans = srv.ctl.NumChannels()
	}
	var chans []int
	for ch := 0; ch < nchans; ch++ {
		if (p.ChannelMask>>ch)&1 == 1 {
			chans = append(chans, ch)
		}
	}
	return chans
}

// OnInit opens the board and pushes the configuration received by /config.
func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.ctl != nil {
		ctx.Msg.Errorf("board %v already initialized", srv.conn)
		return fmt.Errorf("board %v already initialized", srv.conn)
	}

	lib, err := srv.newLib()
	if err != nil {
		ctx.Msg.Errorf("could not load CAEN library: %+v", err)
		return fmt.Errorf("could not load CAEN library: %w", err)
	}

	opts := append([]caen.Option{caen.WithMsgStream(ctx.Msg)}, srv.opts...)
	ctl, err := caen.Open(lib, srv.conn, opts...)
	if err != nil {
		ctx.Msg.Errorf("could not open board %v: %+v", srv.conn, err)
		return fmt.Errorf("could not open board %v: %w", srv.conn, err)
	}
	srv.ctl = ctl

	switch srv.params {
	case nil:
		srv.params, err = ctl.Config()
	default:
		err = ctl.SetConfig(srv.params)
	}
	if err != nil {
		_ = ctl.Close()
		srv.ctl = nil
		ctx.Msg.Errorf("could not configure board %v: %+v", srv.conn, err)
		return fmt.Errorf("could not configure board %v: %w", srv.conn, err)
	}
	srv.chans = srv.channels(srv.params)
	ctx.Msg.Infof("board %v: OK (channels=%v)", srv.conn, srv.chans)

	return nil
}

// OnStart starts the acquisition on all enabled channels.
func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.ctl == nil {
		return fmt.Errorf("could not start run: %w", caen.ErrNotOpen)
	}

	srv.n = 0
	for i, ch := range srv.chans {
		err := srv.ctl.StartAcquisition(ch)
		if err != nil {
			for _, ch := range srv.chans[:i] {
				_ = srv.ctl.StopAcquisition(ch)
			}
			ctx.Msg.Errorf("could not start channel %d: %+v", ch, err)
			return fmt.Errorf("could not start channel %d: %w", ch, err)
		}
	}
	return nil
}

// OnStop stops the acquisition and publishes the final histograms.
func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	ctx.Msg.Debugf("received /stop command... -> n=%d", srv.n)
	if srv.ctl == nil {
		return fmt.Errorf("could not stop run: %w", caen.ErrNotOpen)
	}

	var errs []error
	for _, ch := range srv.chans {
		if !srv.ctl.Running(ch) {
			continue
		}
		err := srv.ctl.StopAcquisition(ch)
		if err != nil {
			ctx.Msg.Errorf("could not stop channel %d: %+v", ch, err)
			errs = append(errs, err)
			continue
		}
		err = srv.publish(ch)
		if err != nil {
			ctx.Msg.Errorf("could not publish final histogram of channel %d: %+v", ch, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("could not stop run: %w", errs[0])
	}
	return nil
}

// OnQuit closes the board.
func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	err := srv.Close()
	if err != nil {
		ctx.Msg.Errorf("%+v", err)
		return err
	}
	return nil
}

// Close stops the running channels and closes the board.
// Closing a node without an opened board is a no-op.
func (srv *Server) Close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.ctl == nil {
		return nil
	}
	err := srv.ctl.Close()
	srv.ctl = nil
	if err != nil {
		return fmt.Errorf("could not close board %v: %w", srv.conn, err)
	}
	return nil
}

// Histo is the /histo output handler.
func (srv *Server) Histo(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-srv.histos:
		dst.Body = raw
	}
	return nil
}

// Run periodically reads out the histograms of the running channels.
func (srv *Server) Run(ctx tdaq.Context) error {
	tck := time.NewTicker(srv.freq)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			err := srv.poll()
			if err != nil {
				ctx.Msg.Errorf("could not read out histograms: %+v", err)
			}
		}
	}
}

func (srv *Server) poll() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.ctl == nil {
		return nil
	}
	for _, ch := range srv.chans {
		if !srv.ctl.Running(ch) {
			continue
		}
		err := srv.publish(ch)
		if err != nil {
			return err
		}
	}
	return nil
}

// publish reads out the histogram of channel ch and queues it on the
// /histo output. Histograms are dropped when the output is not drained.
func (srv *Server) publish(ch int) error {
	h, err := srv.ctl.GetHistogram(ch)
	if err != nil {
		return fmt.Errorf("could not read histogram of channel %d: %w", ch, err)
	}
	raw, err := EncodeHisto(h)
	if err != nil {
		return err
	}
	select {
	case srv.histos <- raw:
		srv.n++
	default:
	}
	return nil
}

// EncodeHisto serializes a histogram into a /histo frame body.
func EncodeHisto(h *caen.Histogram) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(4*caen.NumBins + 32)

	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(h.Channel))
	enc.WriteU8(uint8(h.Status))
	enc.WriteU32(h.Total)
	enc.WriteU64(h.RealTime)
	enc.WriteU64(h.DeadTime)
	for _, v := range h.Counts {
		enc.WriteU32(v)
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode histogram of channel %d: %w", h.Channel, err)
	}
	return buf.Bytes(), nil
}

// DecodeHisto deserializes a /histo frame body.
func DecodeHisto(p []byte) (*caen.Histogram, error) {
	var (
		h   caen.Histogram
		dec = tdaq.NewDecoder(bytes.NewReader(p))
	)
	h.Channel = int(dec.ReadU32())
	h.Status = caen.AcqStatus(dec.ReadU8())
	h.Total = dec.ReadU32()
	h.RealTime = dec.ReadU64()
	h.DeadTime = dec.ReadU64()
	for i := range h.Counts {
		h.Counts[i] = dec.ReadU32()
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("could not decode histogram: %w", err)
	}
	return &h, nil
}
