// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package histodb stores finished RBS measurements and their spectra
// in the measurement database.
//
// Measurements are stored in the "measurements" table, one row per
// acquisition channel and run, with the histogram counts as a
// little-endian array of uint32.
package histodb // import "github.com/go-lpc/rbs/histodb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/rbs/caen"
	"github.com/go-lpc/rbs/spectrum"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

var (
	drvName = "mysql"

	// ErrNotFound is returned when a measurement is not in the database.
	ErrNotFound = errors.New("histodb: measurement not found")
)

const timeout = 5 * time.Second

// Config describes how to connect to the measurement database.
type Config struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Addr     string `koanf:"addr"` // host:port of the MySQL server
	Name     string `koanf:"name"` // database name
}

// DSN returns the data source name of the database.
func (cfg Config) DSN() string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = cfg.Addr
	dsn.DBName = cfg.Name
	dsn.ParseTime = true
	return dsn.FormatDSN()
}

// Counts is a histogram content, stored as a little-endian blob.
type Counts []uint32

// Value implements driver.Valuer.
func (cs Counts) Value() (driver.Value, error) {
	buf := make([]byte, 4*len(cs))
	for i, v := range cs {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf, nil
}

// Scan implements sql.Scanner.
func (cs *Counts) Scan(src interface{}) error {
	var raw []byte
	switch src := src.(type) {
	case []byte:
		raw = src
	case string:
		raw = []byte(src)
	case nil:
		*cs = nil
		return nil
	default:
		return fmt.Errorf("histodb: invalid counts type %T", src)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("histodb: invalid counts blob size %d", len(raw))
	}
	out := make(Counts, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	*cs = out
	return nil
}

// Measurement is a finished acquisition of one channel.
type Measurement struct {
	ID       int64     `db:"id" json:"id"`
	Sample   string    `db:"sample" json:"sample"`
	Channel  int       `db:"channel" json:"channel"`
	Start    time.Time `db:"start" json:"start"`
	Stop     time.Time `db:"stop" json:"stop"`
	RealTime int64     `db:"real_time" json:"real_time"` // in ns
	DeadTime int64     `db:"dead_time" json:"dead_time"` // in ns
	Total    int64     `db:"total" json:"total"`
	Slope    float64   `db:"calib_slope" json:"calib_slope"`
	Offset   float64   `db:"calib_offset" json:"calib_offset"`
	Counts   Counts    `db:"counts" json:"-"`
}

// NewMeasurement creates a measurement from the content of a spectrum.
func NewMeasurement(sample string, s *spectrum.Spectrum, start, stop time.Time) Measurement {
	var (
		rt, dt = s.Times()
		calib  = s.Calibration()
	)
	return Measurement{
		Sample:   sample,
		Channel:  s.Channel(),
		Start:    start,
		Stop:     stop,
		RealTime: int64(rt),
		DeadTime: int64(dt),
		Total:    int64(s.Total()),
		Slope:    calib.Slope,
		Offset:   calib.Offset,
		Counts:   s.Y(),
	}
}

// Spectrum returns the content of the measurement as a spectrum.
func (m Measurement) Spectrum() (*spectrum.Spectrum, error) {
	if len(m.Counts) != spectrum.NumBins {
		return nil, fmt.Errorf(
			"histodb: invalid number of bins for measurement %d (got=%d, want=%d)",
			m.ID, len(m.Counts), spectrum.NumBins,
		)
	}

	h := caen.Histogram{
		Channel:  m.Channel,
		Total:    uint32(m.Total),
		RealTime: uint64(m.RealTime),
		DeadTime: uint64(m.DeadTime),
		Status:   caen.AcqStopped,
	}
	copy(h.Counts[:], m.Counts)

	s := spectrum.New(m.Channel)
	err := s.Update(&h)
	if err != nil {
		return nil, err
	}
	err = s.SetCalibration(spectrum.Calibration{Slope: m.Slope, Offset: m.Offset})
	if err != nil {
		return nil, fmt.Errorf("histodb: invalid calibration for measurement %d: %w", m.ID, err)
	}
	return s, nil
}

// DB exposes convenience methods to store and retrieve measurements.
type DB struct {
	db *sqlx.DB
}

// Open opens a connection to the measurement database.
func Open(cfg Config) (*DB, error) {
	db, err := sqlx.Open(drvName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("histodb: could not open %q db: %w", cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("histodb: could not ping %q db: %w", cfg.Name, err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

const (
	columns = "id, sample, channel, start, stop, real_time, dead_time, total, calib_slope, calib_offset, counts"

	insertMeasurement = `INSERT INTO measurements
	(sample, channel, start, stop, real_time, dead_time, total, calib_slope, calib_offset, counts)
	VALUES
	(:sample, :channel, :start, :stop, :real_time, :dead_time, :total, :calib_slope, :calib_offset, :counts)`
)

// Save stores a measurement and returns its identifier.
func (db *DB) Save(ctx context.Context, m Measurement) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("histodb: could not start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, insertMeasurement, m)
	if err != nil {
		return 0, fmt.Errorf("histodb: could not insert measurement (sample=%q, ch=%d): %w", m.Sample, m.Channel, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("histodb: could not retrieve measurement id: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("histodb: could not commit measurement: %w", err)
	}

	return id, nil
}

// Measurement retrieves the measurement with the provided identifier.
func (db *DB) Measurement(ctx context.Context, id int64) (Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var m Measurement
	err := db.db.GetContext(ctx, &m, "SELECT "+columns+" FROM measurements WHERE id=?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, fmt.Errorf("%w (id=%d)", ErrNotFound, id)
		}
		return m, fmt.Errorf("histodb: could not retrieve measurement %d: %w", id, err)
	}
	return m, nil
}

// Measurements returns the last limit measurements, most recent first.
func (db *DB) Measurements(ctx context.Context, limit int) ([]Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var ms []Measurement
	err := db.db.SelectContext(
		ctx, &ms,
		"SELECT "+columns+" FROM measurements ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("histodb: could not list measurements: %w", err)
	}
	return ms, nil
}

// Spectrum retrieves the spectrum of the measurement with the provided
// identifier.
func (db *DB) Spectrum(ctx context.Context, id int64) (*spectrum.Spectrum, error) {
	m, err := db.Measurement(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Spectrum()
}
