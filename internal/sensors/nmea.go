// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

// ErrNotHeading is returned for valid NMEA sentences that carry no heading.
var ErrNotHeading = errors.New("sensors: not a heading sentence")

// DefaultStaleAfter is how long a compass heading stays valid.
const DefaultStaleAfter = 500 * time.Millisecond

// ParseHeading extracts a heading from an HDT or HDM sentence. Compass
// degrees (clockwise from north) become radians counter-clockwise.
func ParseHeading(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return 0, fmt.Errorf("sensors: not an NMEA sentence: %q", line)
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return 0, err
	}

	var deg float64
	switch sentence.DataType() {
	case nmea.TypeHDT:
		deg = sentence.(nmea.HDT).Heading
	case nmea.TypeHDM:
		deg = sentence.(nmea.HDM).Heading
	default:
		return 0, ErrNotHeading
	}
	return geometry.NormalizeAngle(-geometry.Radians(deg)), nil
}

// CompassGyro reads heading sentences from a stream and serves the latest
// one as a GyroReader. A heading older than the stale window reports the
// sensor as disconnected.
type CompassGyro struct {
	staleAfter time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu      sync.Mutex
	heading float64
	at      time.Time
}

// NewCompassGyro builds a gyro-compass reader. staleAfter <= 0 uses
// DefaultStaleAfter.
func NewCompassGyro(staleAfter time.Duration, log *zap.Logger) *CompassGyro {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CompassGyro{staleAfter: staleAfter, now: time.Now, log: log}
}

func (c *CompassGyro) ReadHeading() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at.IsZero() || c.now().Sub(c.at) > c.staleAfter {
		return c.heading, false
	}
	return c.heading, true
}

// Feed applies one line. Non-heading or corrupt sentences are skipped.
func (c *CompassGyro) Feed(line string) {
	h, err := ParseHeading(line)
	if err != nil {
		if !errors.Is(err, ErrNotHeading) {
			c.log.Debug("NMEA parse error", zap.String("line", line), zap.Error(err))
		}
		return
	}
	c.mu.Lock()
	c.heading = h
	c.at = c.now()
	c.mu.Unlock()
}

// Run reads lines from r until it fails or ctx ends. Closing r is the
// caller's job and unblocks a pending read.
func (c *CompassGyro) Run(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := reader.ReadString('\n')
		if line != "" {
			c.Feed(line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("compass read error: %w", err)
		}
	}
}

// OpenSerial opens an 8N1 serial port for an NMEA device.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	rw, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return rw, nil
}
