// Package serial opens ELM327 adapters exposed as serial devices (USB or Bluetooth
// RFCOMM bindings) and lists the devices available.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"elmdiag/internal/models"
	"elmdiag/pkg/log"

	"github.com/avast/retry-go"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaud        = 38400
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultAttempts    = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Config describes how ports are opened.
type Config struct {
	Baud        int
	ReadTimeout time.Duration
	Attempts    uint
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Opener opens devices with a fixed Config.
type Opener struct {
	cfg Config
}

func NewOpener(cfg Config) *Opener {
	return &Opener{cfg: cfg.withDefaults()}
}

// Open opens the device's serial port, retrying a few times since RFCOMM bindings often
// need a moment after pairing.
func (o *Opener) Open(ctx context.Context, device models.DeviceDescriptor) (io.ReadWriteCloser, error) {
	name := device.Address
	if name == "" {
		name = DefaultDevice()
	}
	cfg := &serial.Config{
		Name:        name,
		Baud:        o.cfg.Baud,
		ReadTimeout: o.cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}

	var p *serial.Port
	err := retry.Do(func() error {
		var err error
		p, err = serial.OpenPort(cfg)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(o.cfg.Attempts),
		retry.Delay(o.cfg.RetryDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("failed to open port, retrying", zap.String("port", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s after %d attempts: %w", name, o.cfg.Attempts, err)
	}
	if err := p.Flush(); err != nil {
		log.Warn("failed to flush port", zap.String("port", name), zap.Error(err))
	}
	log.Info("port opened", zap.String("port", name), zap.Int("baud", o.cfg.Baud))
	return &port{p: p}, nil
}

// port hides the read timeouts of the underlying device: tarm/serial reports an expired
// read timeout as io.EOF, which is retried until the port is closed.
type port struct {
	p      *serial.Port
	closed atomic.Bool
}

func (p *port) Read(b []byte) (int, error) {
	for {
		n, err := p.p.Read(b)
		if p.closed.Load() {
			return n, io.ErrClosedPipe
		}
		if n == 0 && errors.Is(err, io.EOF) {
			continue
		}
		return n, err
	}
}

func (p *port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.p.Write(b)
}

func (p *port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.p.Close()
}

// DefaultDevice guesses the usual adapter device node for the platform.
func DefaultDevice() string {
	switch runtime.GOOS {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/tty.OBDII-SPPDev"
	default:
		return "/dev/rfcomm0"
	}
}
