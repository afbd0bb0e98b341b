// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command x730-ctl is an interactive console controlling a board
// served by "x730-daq serve".
package main // import "github.com/go-lpc/rbs/cmd/x730-ctl"

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/spectrum"
	"github.com/peterh/liner"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:44000", "[ip]:port of the x730 control server")
		hist = flag.String("history", filepath.Join(os.TempDir(), ".x730-ctl.history"), "path to the history file")
	)

	flag.Parse()

	log.SetPrefix("x730-ctl: ")
	log.SetFlags(0)

	cli, err := caen.Dial(*addr)
	if err != nil {
		log.Fatalf("could not dial x730 server: %+v", err)
	}
	defer cli.Close()

	err = run(cli, *hist, os.Stdout)
	if err != nil {
		log.Fatalf("could not run console: %+v", err)
	}
}

type sender interface {
	Send(name string, args interface{}) (caen.Reply, error)
}

var cmds = []string{
	"open", "configure", "default", "start", "stop", "histo", "close", "help", "quit",
}

func run(cli sender, hist string, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var o []string
		for _, cmd := range cmds {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				o = append(o, cmd)
			}
		}
		return o
	})

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("x730> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := execute(cli, line, w)
		if err != nil {
			fmt.Fprintf(w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// execute runs one console command line.
func execute(cli sender, line string, w io.Writer) (quit bool, err error) {
	toks := strings.Fields(line)
	cmd, args := toks[0], toks[1:]

	switch cmd {
	case "help":
		fmt.Fprint(w, `commands:
  open usb|optical <link> [<node>]  open a board on a USB or optical link
  open ethernet <ip-address>        open a board on an ethernet link
  configure <file.json>             push a board configuration
  default                           push the default board configuration
  start <ch>                        start the acquisition on channel ch
  stop <ch>                         stop the acquisition on channel ch
  histo <ch> [<file.yoda>]          read the histogram of channel ch
  close                             close the board
  quit                              leave the console
`)
		return false, nil

	case "quit", "exit":
		return true, nil

	case "open":
		cp, err := connParams(args)
		if err != nil {
			return false, err
		}
		_, err = cli.Send("open", cp)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "board %v opened\n", cp)

	case "configure":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: configure <file.json>")
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return false, fmt.Errorf("could not read board configuration: %w", err)
		}
		p := caen.NewDgtzParams()
		err = json.Unmarshal(raw, p)
		if err != nil {
			return false, fmt.Errorf("could not decode board configuration: %w", err)
		}
		_, err = cli.Send("configure", p)
		if err != nil {
			return false, err
		}

	case "default", "close":
		_, err := cli.Send(cmd, nil)
		if err != nil {
			return false, err
		}

	case "start", "stop":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <ch>", cmd)
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid channel %q: %w", args[0], err)
		}
		_, err = cli.Send(cmd, ch)
		if err != nil {
			return false, err
		}

	case "histo":
		if len(args) < 1 || len(args) > 2 {
			return false, fmt.Errorf("usage: histo <ch> [<file.yoda>]")
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid channel %q: %w", args[0], err)
		}
		rep, err := cli.Send("histo", ch)
		if err != nil {
			return false, err
		}
		if rep.Histo == nil {
			return false, fmt.Errorf("missing histogram in reply")
		}
		h := rep.Histo
		fmt.Fprintf(w, "ch=%d status=%v total=%d real-time=%v dead-time=%v\n",
			h.Channel, h.Status, h.Total,
			time.Duration(h.RealTime), time.Duration(h.DeadTime),
		)
		if len(args) == 2 {
			err = writeYODA(args[1], h)
			if err != nil {
				return false, err
			}
		}

	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}

	return false, nil
}

func connParams(args []string) (caen.ConnectionParams, error) {
	var cp caen.ConnectionParams
	if len(args) < 2 {
		return cp, fmt.Errorf("usage: open usb|optical|ethernet <link|ip-address> [<node>]")
	}

	switch args[0] {
	case "ethernet", "eth":
		cp.LinkType = caen.Ethernet
		err := cp.ETHAddress.Set(args[1])
		if err != nil {
			return cp, fmt.Errorf("invalid ethernet address: %w", err)
		}
		return cp, nil
	case "usb":
		cp.LinkType = caen.USB
	case "optical", "optical-link":
		cp.LinkType = caen.OpticalLink
	default:
		return cp, fmt.Errorf("invalid link type %q", args[0])
	}

	link, err := strconv.Atoi(args[1])
	if err != nil {
		return cp, fmt.Errorf("invalid link number %q: %w", args[1], err)
	}
	cp.LinkNum = int32(link)

	if len(args) > 2 {
		node, err := strconv.Atoi(args[2])
		if err != nil {
			return cp, fmt.Errorf("invalid node number %q: %w", args[2], err)
		}
		cp.ConetNode = int32(node)
	}
	return cp, nil
}

func writeYODA(fname string, h *caen.Histogram) error {
	s := spectrum.New(h.Channel)
	err := s.Update(h)
	if err != nil {
		return err
	}

	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create YODA file: %w", err)
	}
	defer f.Close()

	err = s.WriteYODA(f)
	if err != nil {
		return err
	}
	return f.Close()
}
