// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/internal/config"
)

type fakeStore struct {
	mu sync.Mutex
	ms []histodb.Measurement
}

func (db *fakeStore) Save(ctx context.Context, m histodb.Measurement) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.ms = append(db.ms, m)
	return int64(len(db.ms)), nil
}

type fakeAlerter struct {
	subjects []string
}

func (a *fakeAlerter) Alert(subject, body string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

func quiet() log.MsgStream {
	return log.NewMsgStream("x730-daq", log.LvlError, io.Discard)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Sample = "Au-foil"
	cfg.Chans = []int{0, 3}
	cfg.Calib = []config.Calib{{Channel: 3, Slope: 2, Offset: 10}}
	cfg.Poll = 5 * time.Millisecond
	cfg.Rate = 1000
	cfg.Runtime = 50 * time.Millisecond
	cfg.Monitor = "localhost:0"
	return cfg
}

func newTestDaemon(t *testing.T, cfg config.Config, sim *caen.Simulator) *daemon {
	t.Helper()
	dev, err := newDaemon(cfg, func() (caen.Library, error) { return sim, nil }, quiet())
	if err != nil {
		t.Fatalf("could not create daemon: %+v", err)
	}
	return dev
}

func TestRun(t *testing.T) {
	cfg := testConfig()
	sim := newSimulator(1234, cfg.Chans)

	var (
		dev   = newTestDaemon(t, cfg, sim)
		db    = new(fakeStore)
		alert = new(fakeAlerter)
	)
	dev.db = db
	dev.alert = alert

	err := dev.run(context.Background())
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	if got, want := len(db.ms), 2; got != want {
		t.Fatalf("invalid number of measurements: got=%d, want=%d", got, want)
	}
	for i, m := range db.ms {
		if got, want := m.Channel, cfg.Chans[i]; got != want {
			t.Fatalf("invalid channel: got=%d, want=%d", got, want)
		}
		if got, want := m.Sample, "Au-foil"; got != want {
			t.Fatalf("invalid sample: got=%q, want=%q", got, want)
		}
		if m.Total == 0 {
			t.Fatalf("channel %d: no counts", m.Channel)
		}
		if !m.Stop.After(m.Start) {
			t.Fatalf("channel %d: invalid run times: start=%v, stop=%v", m.Channel, m.Start, m.Stop)
		}
		if got, want := len(m.Counts), caen.NumBins; got != want {
			t.Fatalf("invalid number of bins: got=%d, want=%d", got, want)
		}
	}
	if got, want := db.ms[1].Slope, 2.0; got != want {
		t.Fatalf("invalid calibration slope: got=%v, want=%v", got, want)
	}
	if got, want := db.ms[0].Slope, 1.0; got != want {
		t.Fatalf("invalid calibration slope: got=%v, want=%v", got, want)
	}

	if len(alert.subjects) != 0 {
		t.Fatalf("unexpected alerts: %q", alert.subjects)
	}
	if got, want := sim.Calls("EndLibrary"), 1; got != want {
		t.Fatalf("invalid number of EndLibrary calls: got=%d, want=%d", got, want)
	}
	if got, want := dev.ctl.State(), caen.StateClosed; got != want {
		t.Fatalf("invalid controller state: got=%v, want=%v", got, want)
	}
}

func TestRunCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime = 0
	cfg.Monitor = ""
	sim := newSimulator(1, cfg.Chans)

	dev := newTestDaemon(t, cfg, sim)
	db := new(fakeStore)
	dev.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := dev.run(ctx)
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	if got, want := len(db.ms), 2; got != want {
		t.Fatalf("invalid number of measurements: got=%d, want=%d", got, want)
	}
}

func TestRunAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor = ""
	sim := newSimulator(1, cfg.Chans)
	sim.Fail("GetCurrentHistogram", caen.RCReadFail)

	var (
		dev   = newTestDaemon(t, cfg, sim)
		db    = new(fakeStore)
		alert = new(fakeAlerter)
	)
	dev.db = db
	dev.alert = alert

	err := dev.run(context.Background())
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	if got, want := len(alert.subjects), len(cfg.Chans); got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d (%q)", got, want, alert.subjects)
	}
	if got, want := len(db.ms), 2; got != want {
		t.Fatalf("invalid number of measurements: got=%d, want=%d", got, want)
	}
}

func TestRunOpenFailure(t *testing.T) {
	cfg := testConfig()
	sim := newSimulator(1, cfg.Chans)
	sim.Fail("AddBoard", caen.RCBoardInitFail)

	dev := newTestDaemon(t, cfg, sim)
	dev.retry = 300 * time.Millisecond

	err := dev.run(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, caen.RCBoardInitFail) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, caen.RCBoardInitFail)
	}
	if got := sim.Calls("AddBoard"); got < 2 {
		t.Fatalf("open not retried: calls=%d", got)
	}
}

func TestRunOpenTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond

	sim := newSimulator(1, cfg.Chans)
	sim.SetDelay(2 * cfg.Timeout)

	dev := newTestDaemon(t, cfg, sim)
	go func() {
		time.Sleep(4 * cfg.Timeout)
		sim.SetDelay(0)
	}()

	err := dev.run(context.Background())
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	if got := sim.Calls("InitLibrary"); got < 2 {
		t.Fatalf("open not retried: calls=%d", got)
	}
	if init, end := sim.Calls("InitLibrary"), sim.Calls("EndLibrary"); init != end {
		t.Fatalf("library instances leaked: init=%d, end=%d", init, end)
	}
}

func TestConfigure(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "params.json")
	err := os.WriteFile(fname, []byte(`{"channel_mask": 0}`), 0644)
	if err != nil {
		t.Fatalf("could not write board configuration: %+v", err)
	}

	cfg := testConfig()
	cfg.Chans = []int{2}
	cfg.Calib = nil
	cfg.Params = fname

	sim := newSimulator(1, cfg.Chans)
	dev := newTestDaemon(t, cfg, sim)

	err = dev.open()
	if err != nil {
		t.Fatalf("could not open board: %+v", err)
	}
	defer dev.ctl.Close()

	err = dev.configure()
	if err != nil {
		t.Fatalf("could not configure board: %+v", err)
	}

	p, err := dev.ctl.Config()
	if err != nil {
		t.Fatalf("could not retrieve configuration: %+v", err)
	}
	if got, want := p.ChannelMask, int32(1<<2); got != want {
		t.Fatalf("invalid channel mask: got=0x%x, want=0x%x", got, want)
	}

	dev.cfg.Params = filepath.Join(t.TempDir(), "not-there.json")
	err = dev.configure()
	if err == nil {
		t.Fatalf("expected an error for a missing board configuration")
	}
}

func TestMailer(t *testing.T) {
	m := newMailer(config.Mail{Server: "smtp.example.org", Port: 587})
	_, err := m.message("subject", "body")
	if err == nil {
		t.Fatalf("expected an error for missing credentials")
	}
	err = m.Alert("subject", "body")
	if err == nil {
		t.Fatalf("expected an error for missing credentials")
	}

	m = newMailer(config.Mail{
		Server:   "smtp.example.org",
		Port:     587,
		Username: "daq@example.org",
		Password: "s3cr3t",
		Targets:  []string{"shifter@example.org"},
	})
	msg, err := m.message("subject", "body")
	if err != nil {
		t.Fatalf("could not create message: %+v", err)
	}
	if got, want := msg.GetHeader("Subject"), []string{"subject"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("invalid subject: got=%q, want=%q", got, want)
	}
}

func TestMkconf(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "x730-daq.yml")
	err := mkconf(fname)
	if err != nil {
		t.Fatalf("could not create configuration: %+v", err)
	}

	cfg, err := loadConfig(fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}
	if got, want := cfg.Sample, config.Default().Sample; got != want {
		t.Fatalf("invalid sample: got=%q, want=%q", got, want)
	}
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("could not find a free port: %+v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	cfg := testConfig()
	cfg.Ctl = addr
	sim := newSimulator(1234, cfg.Chans)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, func() (caen.Library, error) { return sim, nil }, quiet())
	}()

	var cli *caen.Client
	deadline := time.Now().Add(5 * time.Second)
	for {
		cli, err = caen.Dial(addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not dial control server: %+v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer cli.Close()

	for _, req := range []struct {
		name string
		args interface{}
	}{
		{"open", caen.ConnectionParams{LinkType: caen.USB}},
		{"start", 0},
	} {
		_, err = cli.Send(req.name, req.args)
		if err != nil {
			t.Fatalf("could not send %q: %+v", req.name, err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not shut down control server: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("control server did not shut down")
	}

	if got, want := sim.Calls("StopAcquisition"), 1; got != want {
		t.Fatalf("invalid number of StopAcquisition calls: got=%d, want=%d", got, want)
	}
	if got, want := sim.Calls("EndLibrary"), 1; got != want {
		t.Fatalf("invalid number of EndLibrary calls: got=%d, want=%d", got, want)
	}
}

func TestRunPmon(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Params = filepath.Join(dir, "not-there.json")

	fname := filepath.Join(dir, "x730-daq.yml")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}
	defer f.Close()
	err = cfg.WriteYAML(f)
	if err != nil {
		t.Fatalf("could not write config file: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close config file: %+v", err)
	}

	err = run("run", fname, true, true, 10*time.Millisecond, false)
	if err == nil {
		t.Fatalf("expected an error")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "x730-daq-pmon.log"))
	if err != nil {
		t.Fatalf("could not read pmon log file: %+v", err)
	}
	if !bytes.Contains(raw, []byte("# stop:")) {
		t.Fatalf("pmon monitoring not stopped:\n%s", raw)
	}
}
