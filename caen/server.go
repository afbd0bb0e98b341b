// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/go-daq/tdaq/log"
)

// Request is a command sent to a control server.
type Request struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply is the answer of a control server to a Request.
type Reply struct {
	Msg   string     `json:"msg"`
	Histo *Histogram `json:"histo,omitempty"`
}

// server allows to control a board over a TCP connection.
type server struct {
	ctl net.Listener
	msg log.MsgStream

	newLibrary func() (Library, error)
	opts       []Option

	mu   sync.Mutex
	conn net.Conn // active control connection
}

// Serve listens on the TCP network address addr and serves control
// connections, one at a time.
//
// Each connection gets a new Controller built on top of the library
// returned by newLib. The controller is closed when the connection ends.
//
// Serve returns once ctx is done, after the active connection has ended
// and its controller has been closed.
func Serve(ctx context.Context, addr string, newLib func() (Library, error), opts ...Option) error {
	srv, err := newServer(addr, newLib, opts...)
	if err != nil {
		return fmt.Errorf("could not create caen server: %w", err)
	}
	return srv.serve(ctx)
}

func newServer(addr string, newLib func() (Library, error), opts ...Option) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create caen-ctl server on %q: %w", addr, err)
	}

	srv := &server{
		ctl:        ctl,
		msg:        log.NewMsgStream("caen-srv", log.LvlInfo, os.Stdout),
		newLibrary: newLib,
		opts:       opts,
	}
	return srv, nil
}

func (srv *server) serve(ctx context.Context) error {
	defer srv.close()

	quit := make(chan struct{})
	defer close(quit)
	go func() {
		select {
		case <-ctx.Done():
			srv.msg.Infof("shutting down...")
			srv.close()
		case <-quit:
		}
	}()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not accept connection: %w", err)
		}

		srv.track(ctx, conn)
		err = srv.handle(conn)
		srv.track(ctx, nil)
		if err != nil && ctx.Err() == nil {
			srv.msg.Errorf("could not run board: %+v", err)
		}
	}
}

// track records the active connection, closing it if ctx is already done.
func (srv *server) track(ctx context.Context, conn net.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.conn = conn
	if conn != nil && ctx.Err() != nil {
		_ = conn.Close()
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Infof("serving %v...", conn.RemoteAddr())
	defer srv.msg.Infof("serving %v... [done]", conn.RemoteAddr())

	lib, err := srv.newLibrary()
	if err != nil {
		srv.reply(conn, Reply{}, err)
		return fmt.Errorf("could not create native library: %w", err)
	}

	dev := New(lib, srv.opts...)
	defer dev.Close()

	dec := json.NewDecoder(conn)

loop:
	for {
		var req Request
		err = dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Errorf("could not decode command request: %+v", err)
			srv.reply(conn, Reply{}, err)
			return fmt.Errorf("could not decode command request: %w", err)
		}
		srv.msg.Debugf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "open":
			var cp ConnectionParams
			err = srv.decode(req, &cp)
			if err == nil {
				err = dev.Open(cp)
			}
			srv.reply(conn, Reply{}, err)

		case "configure":
			p := NewDgtzParams()
			err = srv.decode(req, p)
			if err == nil {
				err = dev.SetConfig(p)
			}
			srv.reply(conn, Reply{}, err)

		case "default":
			err = dev.SetDefaultConfig()
			srv.reply(conn, Reply{}, err)

		case "start", "stop", "histo":
			var ch int
			err = srv.decode(req, &ch)
			if err != nil {
				srv.reply(conn, Reply{}, err)
				continue
			}
			var rep Reply
			switch strings.ToLower(req.Name) {
			case "start":
				err = dev.StartAcquisition(ch)
			case "stop":
				err = dev.StopAcquisition(ch)
			case "histo":
				rep.Histo, err = dev.GetHistogram(ch)
			}
			srv.reply(conn, rep, err)

		case "close":
			err = dev.Close()
			srv.reply(conn, Reply{}, err)
			break loop

		default:
			srv.msg.Errorf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("unknown command %q", req.Name)
			srv.reply(conn, Reply{}, err)
			continue
		}

		if err != nil {
			srv.msg.Errorf("could not run %q: %+v", req.Name, err)
		}
	}

	return nil
}

func (srv *server) decode(req Request, v interface{}) error {
	if len(req.Args) == 0 {
		return fmt.Errorf("missing %q payload", req.Name)
	}
	err := json.Unmarshal(req.Args, v)
	if err != nil {
		return fmt.Errorf("could not decode %q payload: %w", req.Name, err)
	}
	return nil
}

func (srv *server) reply(conn net.Conn, rep Reply, err error) {
	rep.Msg = "ok"
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.conn != nil {
		_ = srv.conn.Close()
	}
}
