// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/rbs/histodb"
	"github.com/go-lpc/rbs/spectrum"
)

type fakeDB struct {
	ms []histodb.Measurement
}

func (db *fakeDB) Measurements(ctx context.Context, limit int) ([]histodb.Measurement, error) {
	if limit < len(db.ms) {
		return db.ms[:limit], nil
	}
	return db.ms, nil
}

func (db *fakeDB) Spectrum(ctx context.Context, id int64) (*spectrum.Spectrum, error) {
	for _, m := range db.ms {
		if m.ID == id {
			return m.Spectrum()
		}
	}
	return nil, fmt.Errorf("%w (id=%d)", histodb.ErrNotFound, id)
}

func newDB() *fakeDB {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	counts := make(histodb.Counts, spectrum.NumBins)
	counts[1200] = 7
	return &fakeDB{
		ms: []histodb.Measurement{
			{
				ID: 2, Sample: "Si-wafer", Channel: 1,
				Start: start, Stop: start.Add(90 * time.Minute),
				RealTime: int64(90 * time.Minute), DeadTime: int64(54 * time.Second),
				Total: 7, Slope: 2, Offset: 5, Counts: counts,
			},
			{
				ID: 1, Sample: "Au-foil", Channel: 0,
				Start: start.Add(-time.Hour), Stop: start,
				Total: 0, Slope: 1, Counts: make(histodb.Counts, spectrum.NumBins),
			},
		},
	}
}

func TestList(t *testing.T) {
	out := new(bytes.Buffer)
	err := list(context.Background(), newDB(), 10, out)
	if err != nil {
		t.Fatalf("could not list measurements: %+v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got, want := len(lines), 3; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d\n%s", got, want, out.String())
	}
	for _, want := range []string{"Si-wafer", "1h30m0s", "1.00%", "2*x+5"} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("missing %q in line %q", want, lines[1])
		}
	}
	if !strings.Contains(lines[2], "0.00%") {
		t.Fatalf("invalid dead-time for empty measurement: %q", lines[2])
	}

	out.Reset()
	err = list(context.Background(), newDB(), 1, out)
	if err != nil {
		t.Fatalf("could not list measurements: %+v", err)
	}
	if got, want := strings.Count(out.String(), "\n"), 2; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d", got, want)
	}
}

func TestExport(t *testing.T) {
	oname := filepath.Join(t.TempDir(), "out.yoda")
	err := export(context.Background(), newDB(), 2, oname)
	if err != nil {
		t.Fatalf("could not export measurement: %+v", err)
	}

	raw, err := os.ReadFile(oname)
	if err != nil {
		t.Fatalf("could not read output file: %+v", err)
	}
	if !bytes.Contains(raw, []byte("BEGIN YODA_HISTO1D")) {
		t.Fatalf("invalid YODA file:\n%s", raw)
	}

	err = export(context.Background(), newDB(), 3, oname)
	if err == nil {
		t.Fatalf("expected an error for a missing measurement")
	}
}
