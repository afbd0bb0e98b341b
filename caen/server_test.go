// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
)

func TestServerFail(t *testing.T) {
	err := Serve(context.Background(), ":invalid", func() (Library, error) { return NewSimulator(1), nil })
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	sim := NewSimulator(1234)
	sim.SetPeaks(0, Peak{Mean: 2000, Sigma: 5, Rate: 10})

	srv, err := newServer(
		"localhost:0",
		func() (Library, error) { return sim, nil },
		quiet(),
	)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	srv.msg = log.NewMsgStream("caen-srv", log.LvlError, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.serve(ctx)
	}()

	cli, err := Dial(srv.ctl.Addr().String())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer cli.Close()

	for _, tc := range []struct {
		name string
		args interface{}
		want string
	}{
		{name: "start", args: 0, want: ErrNotOpen.Error()},
		{name: "open", args: ConnectionParams{LinkType: USB}},
		{name: "open", want: `missing "open" payload`},
		{name: "configure", args: NewDgtzParams()},
		{name: "default"},
		{name: "start", args: 0},
		{name: "start", args: 0, want: ErrInvalidState.Error()},
		{name: "start", args: "zero", want: `could not decode "start" payload`},
		{name: "start", args: 42, want: ErrChannelOutOfRange.Error()},
		{name: "histo", args: 0},
		{name: "stop", args: 0},
		{name: "not-there", want: `unknown command "not-there"`},
	} {
		rep, err := cli.Send(tc.name, tc.args)
		switch {
		case tc.want == "":
			if err != nil {
				t.Fatalf("could not send %q: %+v", tc.name, err)
			}
		default:
			if err == nil {
				t.Fatalf("%s: expected an error", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("%s: invalid error:\ngot= %q\nwant=%q", tc.name, err, tc.want)
			}
			continue
		}

		if tc.name == "histo" {
			if rep.Histo == nil {
				t.Fatalf("missing histogram")
			}
			if got, want := rep.Histo.Total, uint32(10); got != want {
				t.Fatalf("invalid histogram total: got=%d, want=%d", got, want)
			}
			if got, want := len(rep.Histo.Counts), NumBins; got != want {
				t.Fatalf("invalid histogram size: got=%d, want=%d", got, want)
			}
		}
	}

	_, err = cli.Send("close", nil)
	if err != nil {
		t.Fatalf("could not close board: %+v", err)
	}
	if got, want := sim.Calls("EndLibrary"), 1; got != want {
		t.Fatalf("invalid number of EndLibrary calls: got=%d, want=%d", got, want)
	}

	cancel()
	err = <-done
	if err != nil {
		t.Fatalf("could not shut down server: %+v", err)
	}
}

func TestServerShutdown(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cmds  []string
		stops int
		ends  int
	}{
		{name: "idle"},
		{name: "connected", cmds: []string{}},
		{name: "opened", cmds: []string{"open"}, ends: 1},
		{name: "running", cmds: []string{"open", "start"}, stops: 1, ends: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sim := NewSimulator(1234)
			srv, err := newServer(
				"localhost:0",
				func() (Library, error) { return sim, nil },
				quiet(),
			)
			if err != nil {
				t.Fatalf("could not create server: %+v", err)
			}
			srv.msg = log.NewMsgStream("caen-srv", log.LvlError, io.Discard)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- srv.serve(ctx)
			}()

			if tc.cmds != nil {
				cli, err := Dial(srv.ctl.Addr().String())
				if err != nil {
					t.Fatalf("could not dial server: %+v", err)
				}
				defer cli.Close()

				for _, name := range tc.cmds {
					var args interface{}
					switch name {
					case "open":
						args = ConnectionParams{LinkType: USB}
					case "start":
						args = 0
					}
					_, err = cli.Send(name, args)
					if err != nil {
						t.Fatalf("could not send %q: %+v", name, err)
					}
				}
			}

			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("could not shut down server: %+v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("server did not shut down")
			}

			if got, want := sim.Calls("StopAcquisition"), tc.stops; got != want {
				t.Fatalf("invalid number of StopAcquisition calls: got=%d, want=%d", got, want)
			}
			if got, want := sim.Calls("EndLibrary"), tc.ends; got != want {
				t.Fatalf("invalid number of EndLibrary calls: got=%d, want=%d", got, want)
			}
		})
	}
}
