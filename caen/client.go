// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Client sends commands to a control server.
type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the control server listening at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("caen: could not dial %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send sends the named command with its (JSON-encodable) arguments and
// waits for the reply. A reply reporting a failure is returned as an error.
func (c *Client) Send(name string, args interface{}) (Reply, error) {
	var rep Reply
	if c.conn == nil {
		return rep, fmt.Errorf("caen: client closed")
	}

	req := Request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return rep, fmt.Errorf("caen: could not encode %q arguments: %w", name, err)
		}
		req.Args = raw
	}

	err := c.enc.Encode(req)
	if err != nil {
		return rep, fmt.Errorf("caen: could not send %q command: %w", name, err)
	}

	err = c.dec.Decode(&rep)
	if err != nil {
		return rep, fmt.Errorf("caen: could not decode %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return rep, fmt.Errorf("caen: command %q failed: %w", name, errors.New(rep.Msg))
	}
	return rep, nil
}
