// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command x730-daq runs an RBS acquisition on a CAEN x730 digitizer.
//
// Usage:
//
//	x730-daq [options] [run|serve|mkconf|conf|version]
//
// The run command (the default) opens the board, acquires the configured
// channels, serves the spectra over HTTP and stores the final spectra in
// the measurement database.
// The serve command exposes the board through the JSON/TCP control server.
// The mkconf command writes the default configuration to the -cfg file.
// The conf command prints the current configuration.
// The version command prints the version of the module.
package main // import "github.com/go-lpc/rbs/cmd/x730-daq"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rbs"
	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/internal/config"
	"github.com/sbinet/pmon"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		cfgName = flag.String("cfg", "x730-daq.yml", "path to the YAML configuration file")
		doSim   = flag.Bool("sim", false, "use a simulated board")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
		verbose = flag.Bool("v", false, "enable verbose mode")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `x730-daq runs an RBS acquisition on a CAEN x730 digitizer.

Usage: x730-daq [options] [run|serve|mkconf|conf|version]

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	log.SetPrefix("x730-daq: ")
	log.SetFlags(0)

	switch cmd := flag.Arg(0); cmd {
	case "version":
		vers, sum := rbs.Version()
		fmt.Printf("x730-daq %s %s\n", vers, sum)
		return
	case "mkconf":
		err := mkconf(*cfgName)
		if err != nil {
			log.Fatalf("could not create configuration: %+v", err)
		}
		return
	case "conf":
		cfg, err := loadConfig(*cfgName)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
		err = cfg.WriteYAML(os.Stdout)
		if err != nil {
			log.Fatalf("could not print configuration: %+v", err)
		}
		return
	case "", "run", "serve":
	default:
		flag.Usage()
		log.Fatalf("unknown command %q", cmd)
	}

	err := run(flag.Arg(0), *cfgName, *doSim, *doMon, *doFreq, *verbose)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

func run(cmd, cfgName string, doSim, doMon bool, freq time.Duration, verbose bool) error {
	cfg, err := loadConfig(cfgName)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	lvl := tlog.LvlInfo
	if verbose {
		lvl = tlog.LvlDebug
	}
	msg := tlog.NewMsgStream("x730-daq", lvl, os.Stdout)

	newLib := caen.NewLibrary
	if doSim {
		newLib = func() (caen.Library, error) {
			return newSimulator(uint64(time.Now().UnixNano()), cfg.Chans), nil
		}
	}

	if doMon {
		stop, err := monitorSelf(filepath.Dir(cfgName), freq)
		if err != nil {
			return fmt.Errorf("could not start pmon: %w", err)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		return serve(ctx, cfg, newLib, msg)
	default:
		return runDAQ(ctx, cfg, newLib, msg)
	}
}

func loadConfig(fname string) (config.Config, error) {
	_, err := os.Stat(fname)
	if err != nil {
		log.Printf("no configuration file %q, using defaults", fname)
		fname = ""
	}
	return config.Load(fname)
}

func mkconf(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", fname, err)
	}
	defer f.Close()

	err = config.Default().WriteYAML(f)
	if err != nil {
		return err
	}
	return f.Close()
}

func runDAQ(ctx context.Context, cfg config.Config, newLib func() (caen.Library, error), msg tlog.MsgStream) error {
	dev, err := newDaemon(cfg, newLib, msg)
	if err != nil {
		return err
	}

	if cfg.DB.Addr != "" {
		db, err := histodb.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("could not open measurement db: %w", err)
		}
		defer db.Close()
		dev.db = db
	}

	if cfg.Mail.Server != "" {
		dev.alert = newMailer(cfg.Mail)
	}

	return dev.run(ctx)
}

func serve(ctx context.Context, cfg config.Config, newLib func() (caen.Library, error), msg tlog.MsgStream) error {
	msg.Infof("serving board on %q...", cfg.Ctl)
	err := caen.Serve(
		ctx, cfg.Ctl, newLib,
		caen.WithTimeout(cfg.Timeout),
		caen.WithChannels(cfg.NChans),
		caen.WithMsgStream(msg),
	)
	if err != nil {
		return fmt.Errorf("could not serve board: %w", err)
	}
	return nil
}

func monitorSelf(dir string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}
	f, err := os.Create(filepath.Join(dir, "x730-daq-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		<-done
		_ = f.Close()
	}, nil
}

// newSimulator returns a simulated board producing a few gaussian lines
// on each acquisition channel.
func newSimulator(seed uint64, chans []int) *caen.Simulator {
	sim := caen.NewSimulator(seed)
	for _, ch := range chans {
		sim.SetPeaks(ch,
			caen.Peak{Mean: 2500, Sigma: 30, Rate: 40},
			caen.Peak{Mean: 6100, Sigma: 45, Rate: 15},
			caen.Peak{Mean: 9800, Sigma: 60, Rate: 5},
		)
	}
	return sim
}
