// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command x730-tdaq starts a TDAQ server driving a CAEN x730 board.
//
// The board is described by the x730-daq configuration file named by the
// X730_CONFIG environment variable. Setting X730_SIM runs the node on a
// simulated board. The board is closed when the process is interrupted.
package main // import "github.com/go-lpc/rbs/cmd/x730-tdaq"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-daq/tdaq"
	tcfg "github.com/go-daq/tdaq/config"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/daqnode"
	"github.com/go-lpc/rbs/internal/config"
	"golang.org/x/sys/unix"
)

func main() {
	log.SetPrefix("x730-tdaq: ")
	log.SetFlags(0)

	cmd := flags.New()

	cfg, err := config.Load(os.Getenv("X730_CONFIG"))
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	newLib := caen.NewLibrary
	if os.Getenv("X730_SIM") != "" {
		newLib = func() (caen.Library, error) {
			sim := caen.NewSimulator(uint64(time.Now().UnixNano()))
			for _, ch := range cfg.Chans {
				sim.SetPeaks(ch, caen.Peak{Mean: 4000, Sigma: 40, Rate: 50})
			}
			return sim, nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	err = run(ctx, cmd, cfg, newLib, os.Stdout)
	if err != nil {
		cancel()
		log.Fatalf("%+v", err)
	}
}

// run serves the board as a TDAQ process until ctx is done or the
// run-control terminates the process. The board is closed on return.
func run(ctx context.Context, cmd tcfg.Process, cfg config.Config, newLib func() (caen.Library, error), stdout io.Writer) error {
	cp, err := cfg.Board.ConnectionParams()
	if err != nil {
		return fmt.Errorf("could not create connection parameters: %w", err)
	}

	dev := daqnode.New(
		newLib, cp, cfg.Poll,
		caen.WithTimeout(cfg.Timeout),
		caen.WithChannels(cfg.NChans),
	)
	defer func() {
		err := dev.Close()
		if err != nil {
			log.Printf("could not close node: %+v", err)
		}
	}()

	srv := tdaq.New(cmd, stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/histo", dev.Histo)

	srv.RunHandle(dev.Run)

	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("could not run tdaq server: %w", err)
	}
	return nil
}
