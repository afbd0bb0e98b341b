// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command x730-dump lists the measurements stored in the measurement
// database and exports their spectra to YODA files.
//
// Usage:
//
//	x730-dump [options]         list the last measurements
//	x730-dump [options] <id>    export the spectrum of measurement id
package main // import "github.com/go-lpc/rbs/cmd/x730-dump"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/internal/config"
	"github.com/go-lpc/rbs/spectrum"
)

func main() {
	var (
		cfgName = flag.String("cfg", "x730-daq.yml", "path to the YAML configuration file")
		limit   = flag.Int("n", 20, "number of measurements to list")
		oname   = flag.String("o", "", "path to the output YODA file (default: measurement-<id>.yoda)")
	)

	flag.Parse()

	log.SetPrefix("x730-dump: ")
	log.SetFlags(0)

	fname := *cfgName
	if _, err := os.Stat(fname); err != nil {
		fname = ""
	}
	cfg, err := config.Load(fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	db, err := histodb.Open(cfg.DB)
	if err != nil {
		log.Fatalf("could not open measurement db: %+v", err)
	}
	defer db.Close()

	ctx := context.Background()
	switch flag.NArg() {
	case 0:
		err = list(ctx, db, *limit, os.Stdout)
	case 1:
		var id int64
		id, err = strconv.ParseInt(flag.Arg(0), 10, 64)
		if err != nil {
			log.Fatalf("invalid measurement id %q: %+v", flag.Arg(0), err)
		}
		o := *oname
		if o == "" {
			o = fmt.Sprintf("measurement-%d.yoda", id)
		}
		err = export(ctx, db, id, o)
	default:
		flag.Usage()
		log.Fatalf("invalid number of arguments (got=%d)", flag.NArg())
	}
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type measurementDB interface {
	Measurements(ctx context.Context, limit int) ([]histodb.Measurement, error)
	Spectrum(ctx context.Context, id int64) (*spectrum.Spectrum, error)
}

func list(ctx context.Context, db measurementDB, limit int, w io.Writer) error {
	ms, err := db.Measurements(ctx, limit)
	if err != nil {
		return fmt.Errorf("could not list measurements: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSAMPLE\tCH\tSTART\tDURATION\tTOTAL\tDEAD\tCALIB\n")
	for _, m := range ms {
		dead := 0.0
		if m.RealTime > 0 {
			dead = 100 * float64(m.DeadTime) / float64(m.RealTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%v\t%d\t%.2f%%\t%g*x%+g\n",
			m.ID, m.Sample, m.Channel,
			m.Start.Format(time.RFC3339),
			m.Stop.Sub(m.Start).Round(time.Second),
			m.Total, dead, m.Slope, m.Offset,
		)
	}
	return tw.Flush()
}

func export(ctx context.Context, db measurementDB, id int64, oname string) error {
	s, err := db.Spectrum(ctx, id)
	if err != nil {
		return fmt.Errorf("could not retrieve measurement %d: %w", id, err)
	}

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	err = s.WriteYODA(f)
	if err != nil {
		return fmt.Errorf("could not export measurement %d: %w", id, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}
