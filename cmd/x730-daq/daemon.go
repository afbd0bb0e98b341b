// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/internal/config"
	"github.com/go-lpc/rbs/monitor"
	"github.com/go-lpc/rbs/spectrum"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type store interface {
	Save(ctx context.Context, m histodb.Measurement) (int64, error)
}

type alerter interface {
	Alert(subject, body string) error
}

type daemon struct {
	cfg    config.Config
	msg    log.MsgStream
	newLib func() (caen.Library, error)

	retry time.Duration // max time spent retrying to open the board

	ctl     *caen.Controller
	spectra []*spectrum.Spectrum // one per acquisition channel, in cfg.Chans order
	lim     *rate.Limiter

	db      store
	alert   alerter
	alerted map[int]bool // channels already reported during the current run

	start time.Time
	stop  time.Time
}

func newDaemon(cfg config.Config, newLib func() (caen.Library, error), msg log.MsgStream) (*daemon, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	dev := &daemon{
		cfg:     cfg,
		msg:     msg,
		newLib:  newLib,
		retry:   30 * time.Second,
		spectra: make([]*spectrum.Spectrum, len(cfg.Chans)),
		lim:     rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		alerted: make(map[int]bool),
	}
	for i, ch := range cfg.Chans {
		s := spectrum.New(ch)
		err = s.SetCalibration(cfg.Calibration(ch))
		if err != nil {
			return nil, fmt.Errorf("could not set calibration of channel %d: %w", ch, err)
		}
		dev.spectra[i] = s
	}
	return dev, nil
}

func (dev *daemon) run(ctx context.Context) error {
	err := dev.open()
	if err != nil {
		return err
	}
	defer func() {
		err := dev.ctl.Close()
		if err != nil {
			dev.msg.Errorf("could not close board: %+v", err)
		}
	}()

	err = dev.configure()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	if dev.cfg.Monitor != "" {
		srv := &http.Server{
			Addr:    dev.cfg.Monitor,
			Handler: monitor.New(dev.ctl, dev.spectra, dev.msg),
		}
		grp.Go(func() error {
			dev.msg.Infof("serving monitor on %q...", dev.cfg.Monitor)
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("could not run monitor server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	grp.Go(func() error {
		defer cancel()
		return dev.acquire(ctx)
	})

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run acquisition: %w", err)
	}
	return nil
}

// open opens the board, retrying while it is not ready.
func (dev *daemon) open() error {
	lib, err := dev.newLib()
	if err != nil {
		return fmt.Errorf("could not load CAEN library: %w", err)
	}

	cp, err := dev.cfg.Board.ConnectionParams()
	if err != nil {
		return err
	}

	// one controller serializes the attempts with the late completion of
	// a timed out one.
	ctl := caen.New(
		lib,
		caen.WithTimeout(dev.cfg.Timeout),
		caen.WithChannels(dev.cfg.NChans),
		caen.WithMsgStream(dev.msg),
	)

	op := func() error {
		err := ctl.Open(cp)
		if err != nil {
			dev.msg.Warnf("could not open board %v: %+v", cp, err)
			return err
		}
		return nil
	}

	err = backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      dev.retry,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return fmt.Errorf("could not open board %v: %w", cp, err)
	}
	dev.ctl = ctl
	return nil
}

// configure pushes the board configuration, enabling the acquisition channels.
func (dev *daemon) configure() error {
	params, err := dev.ctl.Config()
	if err != nil {
		return fmt.Errorf("could not retrieve board configuration: %w", err)
	}

	if dev.cfg.Params != "" {
		raw, err := os.ReadFile(dev.cfg.Params)
		if err != nil {
			return fmt.Errorf("could not read board configuration: %w", err)
		}
		err = json.Unmarshal(raw, params)
		if err != nil {
			return fmt.Errorf("could not decode board configuration %q: %w", dev.cfg.Params, err)
		}
	}

	for _, ch := range dev.cfg.Chans {
		params.ChannelMask |= 1 << ch
	}

	err = dev.ctl.SetConfig(params)
	if err != nil {
		return fmt.Errorf("could not configure board: %w", err)
	}
	return nil
}

// acquire runs the acquisition until ctx is done or the configured run
// duration has elapsed, then stores the final spectra.
func (dev *daemon) acquire(ctx context.Context) error {
	for ch := range dev.alerted {
		delete(dev.alerted, ch)
	}
	for _, s := range dev.spectra {
		s.Reset()
	}

	dev.start = time.Now().UTC()
	for i, ch := range dev.cfg.Chans {
		err := dev.ctl.StartAcquisition(ch)
		if err != nil {
			for _, ch := range dev.cfg.Chans[:i] {
				_ = dev.ctl.StopAcquisition(ch)
			}
			return fmt.Errorf("could not start channel %d: %w", ch, err)
		}
	}
	dev.msg.Infof("acquisition started (sample=%q, channels=%v)", dev.cfg.Sample, dev.cfg.Chans)

	var timeout <-chan time.Time
	if dev.cfg.Runtime > 0 {
		tmr := time.NewTimer(dev.cfg.Runtime)
		defer tmr.Stop()
		timeout = tmr.C
	}

	tck := time.NewTicker(dev.cfg.Poll)
	defer tck.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timeout:
			break loop
		case <-tck.C:
			dev.poll(ctx)
		}
	}

	return dev.finish()
}

// poll reads out the histograms of all acquisition channels.
func (dev *daemon) poll(ctx context.Context) {
	for i, ch := range dev.cfg.Chans {
		err := dev.lim.Wait(ctx)
		if err != nil {
			return
		}
		dev.readout(i, ch)
	}
}

func (dev *daemon) readout(i, ch int) {
	h, err := dev.ctl.GetHistogram(ch)
	if err != nil {
		dev.msg.Errorf("could not read histogram of channel %d: %+v", ch, err)
		dev.raise(ch, err)
		return
	}
	err = dev.spectra[i].Update(h)
	if err != nil {
		dev.msg.Errorf("could not update spectrum of channel %d: %+v", ch, err)
	}
}

// raise sends an alert for channel ch, at most once per run.
func (dev *daemon) raise(ch int, err error) {
	if dev.alert == nil || dev.alerted[ch] {
		return
	}
	dev.alerted[ch] = true

	subject := fmt.Sprintf("[x730-daq] readout alert: channel %d", ch)
	body := fmt.Sprintf(
		"sample: %q\nchannel: %d\nstart: %v\nerror: %+v\n",
		dev.cfg.Sample, ch, dev.start.Format(time.RFC3339), err,
	)
	err = dev.alert.Alert(subject, body)
	if err != nil {
		dev.msg.Errorf("could not send alert: %+v", err)
	}
}

// finish stops the acquisition channels and stores their spectra.
func (dev *daemon) finish() error {
	var errs []error
	for i, ch := range dev.cfg.Chans {
		err := dev.ctl.StopAcquisition(ch)
		if err != nil {
			dev.msg.Errorf("could not stop channel %d: %+v", ch, err)
			errs = append(errs, err)
			continue
		}
		dev.readout(i, ch)
	}
	dev.stop = time.Now().UTC()
	dev.msg.Infof("acquisition stopped (duration=%v)", dev.stop.Sub(dev.start))

	if dev.db != nil {
		ctx := context.Background()
		for _, s := range dev.spectra {
			m := histodb.NewMeasurement(dev.cfg.Sample, s, dev.start, dev.stop)
			id, err := dev.db.Save(ctx, m)
			if err != nil {
				dev.msg.Errorf("could not store spectrum of channel %d: %+v", s.Channel(), err)
				errs = append(errs, err)
				continue
			}
			dev.msg.Infof("spectrum of channel %d stored (id=%d, total=%d)", s.Channel(), id, m.Total)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("could not finish acquisition: %w", errs[0])
	}
	return nil
}
