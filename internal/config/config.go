// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of the x730 acquisition daemon.
package config // import "github.com/go-lpc/rbs/internal/config"

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/spectrum"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration file. Nested keys are separated by a double underscore,
// as in X730_DB__ADDR.
const EnvPrefix = "X730_"

// Config is the configuration of the acquisition daemon.
type Config struct {
	Board   Board         `koanf:"board" yaml:"board"`
	Sample  string        `koanf:"sample" yaml:"sample"`   // name of the measured sample
	NChans  int           `koanf:"nchans" yaml:"nchans"`   // number of channels of the board
	Chans   []int         `koanf:"chans" yaml:"chans"`     // channels to acquire
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"` // native call timeout
	Poll    time.Duration `koanf:"poll" yaml:"poll"`       // histogram readout period
	Rate    float64       `koanf:"rate" yaml:"rate"`       // max histogram reads per second
	Runtime time.Duration `koanf:"runtime" yaml:"runtime"` // acquisition duration, 0 to run until stopped

	Params string  `koanf:"params" yaml:"params"` // JSON board configuration, empty for defaults
	Calib  []Calib `koanf:"calib" yaml:"calib"`

	Ctl     string         `koanf:"ctl" yaml:"ctl"`         // address of the TCP control server
	Monitor string         `koanf:"monitor" yaml:"monitor"` // address of the HTTP monitor
	DB      histodb.Config `koanf:"db" yaml:"db"`
	Mail    Mail           `koanf:"mail" yaml:"mail"`
}

// Board describes how to reach the digitizer.
type Board struct {
	Link    string `koanf:"link" yaml:"link"` // usb, optical-link or ethernet
	LinkNum int32  `koanf:"link_num" yaml:"link_num"`
	Node    int32  `koanf:"node" yaml:"node"`
	VMEBase uint32 `koanf:"vme_base" yaml:"vme_base"`
	Addr    string `koanf:"addr" yaml:"addr"` // IP address, for ethernet links
}

// Calib is the energy calibration of a channel.
type Calib struct {
	Channel int     `koanf:"channel" yaml:"channel"`
	Slope   float64 `koanf:"slope" yaml:"slope"`
	Offset  float64 `koanf:"offset" yaml:"offset"`
}

// Mail describes the SMTP server used to send alerts.
// Alerts are disabled when Server is empty.
type Mail struct {
	Server   string   `koanf:"server" yaml:"server"`
	Port     int      `koanf:"port" yaml:"port"`
	Username string   `koanf:"username" yaml:"username"`
	Password string   `koanf:"password" yaml:"password"`
	Targets  []string `koanf:"targets" yaml:"targets"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Board:   Board{Link: "usb"},
		Sample:  "unnamed",
		NChans:  8,
		Chans:   []int{0},
		Timeout: 5 * time.Second,
		Poll:    time.Second,
		Rate:    10,
		Ctl:     ":44000",
		Monitor: ":8080",
		Mail:    Mail{Port: 587},
	}
}

// Load reads the configuration from the defaults, the optional YAML file
// at path and the environment, in that order.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config: could not find %q: %w", path, err)
		}
		err = k.Load(file.Provider(path), yaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("config: could not load %q: %w", path, err)
		}
	}

	err = k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not load environment: %w", err)
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks the consistency of the configuration.
func (cfg Config) Validate() error {
	switch {
	case cfg.NChans <= 0 || cfg.NChans > caen.MaxNumChB:
		return fmt.Errorf("config: invalid number of channels %d", cfg.NChans)
	case len(cfg.Chans) == 0:
		return fmt.Errorf("config: no acquisition channel")
	case cfg.Timeout <= 0:
		return fmt.Errorf("config: invalid timeout %v", cfg.Timeout)
	case cfg.Poll <= 0:
		return fmt.Errorf("config: invalid poll period %v", cfg.Poll)
	case cfg.Rate <= 0:
		return fmt.Errorf("config: invalid readout rate %v", cfg.Rate)
	case cfg.Runtime < 0:
		return fmt.Errorf("config: invalid run duration %v", cfg.Runtime)
	}

	seen := make(map[int]bool, len(cfg.Chans))
	for _, ch := range cfg.Chans {
		if ch < 0 || ch >= cfg.NChans {
			return fmt.Errorf("config: invalid acquisition channel %d", ch)
		}
		if seen[ch] {
			return fmt.Errorf("config: duplicate acquisition channel %d", ch)
		}
		seen[ch] = true
	}

	for _, c := range cfg.Calib {
		if !seen[c.Channel] {
			return fmt.Errorf("config: calibration for unused channel %d", c.Channel)
		}
		err := c.Calibration().Validate()
		if err != nil {
			return fmt.Errorf("config: invalid calibration for channel %d: %w", c.Channel, err)
		}
	}

	_, err := cfg.Board.ConnectionParams()
	return err
}

// Calibration returns the calibration of the channel.
func (c Calib) Calibration() spectrum.Calibration {
	return spectrum.Calibration{Slope: c.Slope, Offset: c.Offset}
}

// Calibration returns the calibration of channel ch, or the identity.
func (cfg Config) Calibration(ch int) spectrum.Calibration {
	for _, c := range cfg.Calib {
		if c.Channel == ch {
			return c.Calibration()
		}
	}
	return spectrum.Identity
}

// ConnectionParams returns the connection parameters of the board.
func (b Board) ConnectionParams() (caen.ConnectionParams, error) {
	cp := caen.ConnectionParams{
		LinkNum:        b.LinkNum,
		ConetNode:      b.Node,
		VMEBaseAddress: b.VMEBase,
	}
	switch strings.ToLower(b.Link) {
	case "usb":
		cp.LinkType = caen.USB
	case "optical-link", "optical", "conet":
		cp.LinkType = caen.OpticalLink
	case "ethernet", "eth":
		cp.LinkType = caen.Ethernet
		if b.Addr == "" {
			return cp, fmt.Errorf("config: missing ethernet address")
		}
	default:
		return cp, fmt.Errorf("config: invalid link type %q", b.Link)
	}
	err := cp.ETHAddress.Set(b.Addr)
	if err != nil {
		return cp, fmt.Errorf("config: invalid board address: %w", err)
	}
	return cp, nil
}

// WriteYAML writes the configuration in the YAML format.
func (cfg Config) WriteYAML(w io.Writer) error {
	enc := yml.NewEncoder(w)
	defer enc.Close()
	err := enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	return nil
}
