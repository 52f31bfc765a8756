// Package actuator drives the red/green signal light through two Modbus coils.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/factoryctrl/internal/config"
	"go.uber.org/zap"
)

const (
	maxConnectBackoff = 10 * time.Second
	verifyAttempts    = 3
)

// ErrVerifyMismatch means the coils still disagreed with the decision after all verify attempts.
var ErrVerifyMismatch = errors.New("coil read-back does not match written state")

// CoilIO is the subset of *modbus.Client the driver needs.
type CoilIO interface {
	Connect(ctx context.Context) error
	WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error
	ReadCoils(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]bool, error)
	Close() error
	Address() string
}

// WriteError reports which of the two coil writes failed.
type WriteError struct {
	Register string
	Address  uint16
	On       bool
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s coil %d=%t: %v", e.Register, e.Address, e.On, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type coil struct {
	name    string
	address uint16
}

type Driver struct {
	io     CoilIO
	unitID uint8
	red    coil
	green  coil

	connectRetries int
	connectBackoff time.Duration
	verify         bool

	logger *zap.Logger
}

func NewDriver(io CoilIO, cfg config.IOModuleConfig, logger *zap.Logger) *Driver {
	return &Driver{
		io:             io,
		unitID:         cfg.UnitID,
		red:            coil{name: "red", address: cfg.RedBitRegister},
		green:          coil{name: "green", address: cfg.GreenBitRegister},
		connectRetries: cfg.ConnectRetries,
		connectBackoff: cfg.ConnectBackoff,
		verify:         cfg.VerifyWrites,
		logger:         logger,
	}
}

// Connect opens the device session. With connect retries configured, failed attempts
// are repeated with exponential backoff before giving up.
func (d *Driver) Connect(ctx context.Context) error {
	delay := d.connectBackoff

	d.logger.Info("Modbus connecting", zap.String("address", d.io.Address()))

	for attempt := 0; ; attempt++ {
		err := d.io.Connect(ctx)
		if err == nil {
			d.logger.Info("Modbus connected", zap.String("address", d.io.Address()))
			return nil
		}

		if attempt >= d.connectRetries {
			return fmt.Errorf("connect %s: %w", d.io.Address(), err)
		}

		d.logger.Warn("Modbus connection failed, retrying",
			zap.String("address", d.io.Address()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxConnectBackoff {
			delay = maxConnectBackoff
		}
	}
}

// SetAlarm drives the light. Alarm writes green=0 then red=1; clear writes red=0
// then green=1. The two writes are independent; a failure between them leaves the
// light inconsistent until the next successful call.
func (d *Driver) SetAlarm(ctx context.Context, alarm bool) error {
	attempts := 1
	if d.verify {
		attempts = verifyAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.writePair(ctx, alarm); err != nil {
			return err
		}

		if !d.verify {
			return nil
		}

		ok, err := d.readBack(ctx, alarm)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		d.logger.Warn("Coil read-back mismatch",
			zap.Bool("alarm", alarm),
			zap.Int("attempt", attempt))
	}

	return ErrVerifyMismatch
}

func (d *Driver) writePair(ctx context.Context, alarm bool) error {
	off, on := d.red, d.green
	if alarm {
		off, on = d.green, d.red
	}

	if err := d.write(ctx, off, false); err != nil {
		return err
	}
	return d.write(ctx, on, true)
}

func (d *Driver) write(ctx context.Context, c coil, value bool) error {
	if err := d.io.WriteSingleCoil(ctx, d.unitID, c.address, value); err != nil {
		return &WriteError{Register: c.name, Address: c.address, On: value, Err: err}
	}
	return nil
}

func (d *Driver) readBack(ctx context.Context, alarm bool) (bool, error) {
	red, err := d.io.ReadCoils(ctx, d.unitID, d.red.address, 1)
	if err != nil {
		return false, fmt.Errorf("read red coil: %w", err)
	}
	green, err := d.io.ReadCoils(ctx, d.unitID, d.green.address, 1)
	if err != nil {
		return false, fmt.Errorf("read green coil: %w", err)
	}

	return red[0] == alarm && green[0] == !alarm, nil
}

// Close releases the device session.
func (d *Driver) Close() error {
	return d.io.Close()
}
