// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/spectrum"
)

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load default config: %+v", err)
	}
	want := Default()
	if got, want := cfg.Board, want.Board; got != want {
		t.Fatalf("invalid board: got=%+v, want=%+v", got, want)
	}
	if got, want := cfg.Chans, want.Chans; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channels: got=%v, want=%v", got, want)
	}
	if cfg.NChans != want.NChans || cfg.Timeout != want.Timeout || cfg.Poll != want.Poll || cfg.Rate != want.Rate {
		t.Fatalf("invalid acquisition parameters:\ngot= %+v\nwant=%+v", cfg, want)
	}
	if cfg.Ctl != want.Ctl || cfg.Monitor != want.Monitor || cfg.Mail.Port != want.Mail.Port {
		t.Fatalf("invalid service parameters:\ngot= %+v\nwant=%+v", cfg, want)
	}
	if len(cfg.Calib) != 0 {
		t.Fatalf("invalid calibrations: %+v", cfg.Calib)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	fname := filepath.Join(tmp, "x730-daq.yml")
	err := os.WriteFile(fname, []byte(`
board:
  link: ethernet
  addr: 192.168.0.10
sample: Au-foil
chans: [0, 2]
poll: 250ms
calib:
  - channel: 2
    slope: 1.5
    offset: 12
db:
  addr: localhost:3306
  name: rbs
`), 0644)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}

	t.Setenv("X730_DB__USER", "rbs-user")
	t.Setenv("X730_NCHANS", "4")

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	if got, want := cfg.Sample, "Au-foil"; got != want {
		t.Fatalf("invalid sample: got=%q, want=%q", got, want)
	}
	if got, want := cfg.Chans, []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channels: got=%v, want=%v", got, want)
	}
	if got, want := cfg.NChans, 4; got != want {
		t.Fatalf("invalid number of channels: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Poll, 250*time.Millisecond; got != want {
		t.Fatalf("invalid poll period: got=%v, want=%v", got, want)
	}
	if got, want := cfg.Timeout, 5*time.Second; got != want {
		t.Fatalf("invalid timeout: got=%v, want=%v", got, want)
	}
	if got, want := cfg.DB.User, "rbs-user"; got != want {
		t.Fatalf("invalid db user: got=%q, want=%q", got, want)
	}
	if got, want := cfg.DB.Addr, "localhost:3306"; got != want {
		t.Fatalf("invalid db addr: got=%q, want=%q", got, want)
	}
	if got, want := cfg.Calibration(2), (spectrum.Calibration{Slope: 1.5, Offset: 12}); got != want {
		t.Fatalf("invalid calibration: got=%+v, want=%+v", got, want)
	}
	if got, want := cfg.Calibration(0), spectrum.Identity; got != want {
		t.Fatalf("invalid calibration: got=%+v, want=%+v", got, want)
	}

	cp, err := cfg.Board.ConnectionParams()
	if err != nil {
		t.Fatalf("could not create connection parameters: %+v", err)
	}
	if got, want := cp.LinkType, caen.Ethernet; got != want {
		t.Fatalf("invalid link type: got=%v, want=%v", got, want)
	}
	if got, want := cp.ETHAddress.String(), "192.168.0.10"; got != want {
		t.Fatalf("invalid address: got=%q, want=%q", got, want)
	}

	_, err = Load(filepath.Join(tmp, "not-there.yml"))
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestWriteYAML(t *testing.T) {
	want := Default()
	want.Sample = "Si-wafer"
	want.Chans = []int{1, 3}
	want.Calib = []Calib{{Channel: 3, Slope: 2, Offset: -1}}

	fname := filepath.Join(t.TempDir(), "x730-daq.yml")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}
	defer f.Close()

	err = want.WriteYAML(f)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close file: %+v", err)
	}

	got, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	if got.Sample != want.Sample || !reflect.DeepEqual(got.Chans, want.Chans) {
		t.Fatalf("invalid round-trip:\ngot= %+v\nwant=%+v", got, want)
	}
	if !reflect.DeepEqual(got.Calib, want.Calib) {
		t.Fatalf("invalid calibrations: got=%+v, want=%+v", got.Calib, want.Calib)
	}
	if got.Timeout != want.Timeout || got.Poll != want.Poll {
		t.Fatalf("invalid durations: got=(%v, %v), want=(%v, %v)", got.Timeout, got.Poll, want.Timeout, want.Poll)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(cfg *Config)
	}{
		{"nchans", func(cfg *Config) { cfg.NChans = 17 }},
		{"no-chans", func(cfg *Config) { cfg.Chans = nil }},
		{"chan-range", func(cfg *Config) { cfg.Chans = []int{8} }},
		{"chan-dup", func(cfg *Config) { cfg.Chans = []int{1, 1} }},
		{"timeout", func(cfg *Config) { cfg.Timeout = 0 }},
		{"poll", func(cfg *Config) { cfg.Poll = -time.Second }},
		{"rate", func(cfg *Config) { cfg.Rate = 0 }},
		{"runtime", func(cfg *Config) { cfg.Runtime = -1 }},
		{"calib-chan", func(cfg *Config) { cfg.Calib = []Calib{{Channel: 5, Slope: 1}} }},
		{"link", func(cfg *Config) { cfg.Board.Link = "pigeon" }},
		{"eth-addr", func(cfg *Config) { cfg.Board.Link = "ethernet" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	err := Default().Validate()
	if err != nil {
		t.Fatalf("default config is invalid: %+v", err)
	}
}
