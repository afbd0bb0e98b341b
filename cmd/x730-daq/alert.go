// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"

	"github.com/go-lpc/rbs/internal/config"
	mail "gopkg.in/gomail.v2"
)

type mailer struct {
	cfg config.Mail
}

func newMailer(cfg config.Mail) *mailer {
	return &mailer{cfg: cfg}
}

func (m *mailer) message(subject, body string) (*mail.Message, error) {
	if m.cfg.Username == "" || m.cfg.Password == "" ||
		m.cfg.Server == "" || m.cfg.Port == 0 ||
		len(m.cfg.Targets) == 0 {
		return nil, fmt.Errorf("missing mail credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.Username)
	msg.SetHeader("Bcc", m.cfg.Targets...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg, nil
}

func (m *mailer) Alert(subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}

	dial := mail.NewDialer(m.cfg.Server, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err = dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}
