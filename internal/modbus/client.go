package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrNotConnected is returned when a request is sent before Connect or after Close.
var ErrNotConnected = errors.New("modbus: not connected")

type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	retries       int
	connected     bool
	// open is true between Connect and Close; a dropped conn is redialled while open.
	open bool
}

// NewClient creates a Modbus TCP client. retries is the number of times a request is
// resent when the device answers with nothing before the timeout.
func NewClient(address string, timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}

	return &Client{
		address: address,
		timeout: timeout,
		retries: retries,
	}
}

// Address returns host:port of the device.
func (c *Client) Address() string {
	return c.address
}

// Connect stellt TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	c.open = true

	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// Connected reports whether a TCP session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) dialLocked(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.connected = false
}

// SendFrame sendet ein Frame und wartet auf Response.
// A broken connection is dropped and redialled on the next call.
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrNotConnected
	}

	if !c.connected {
		if err := c.dialLocked(ctx); err != nil {
			return nil, fmt.Errorf("reconnect failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		// Unique Transaction ID pro Versuch, damit verspätete Antworten erkennbar bleiben
		c.transactionID++
		request.TransactionID = c.transactionID

		response, err := c.roundTrip(ctx, request.TransactionID, request.Encode())
		if err == nil {
			return response, nil
		}

		var exc *ExceptionError
		if errors.As(err, &exc) {
			return nil, err
		}

		lastErr = err
		if !isEmptyResponse(err) || ctx.Err() != nil {
			break
		}
	}

	c.dropLocked()
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, transactionID uint16, requestData []byte) (*ModbusFrame, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(requestData); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	// A late answer to an earlier attempt carries an older transaction ID and is skipped.
	for {
		response, err := c.readFrame()
		if response != nil && response.TransactionID != transactionID {
			continue
		}
		if err != nil {
			return nil, err
		}

		return response, nil
	}
}

func (c *Client) readFrame() (*ModbusFrame, error) {
	header := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	// Length zählt UnitID + PDU, UnitID steckt schon im Header
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapHeaderSize-1+length > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", length)
	}

	frame := make([]byte, mbapHeaderSize-1+length)
	copy(frame, header)
	if _, err := io.ReadFull(c.conn, frame[mbapHeaderSize:]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	return DecodeFrame(frame)
}

// isEmptyResponse is true when the device accepted the request but did not answer in time.
func isEmptyResponse(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WriteSingleCoil schreibt eine einzelne Coil
func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	request := WriteSingleCoilRequest(0, unitID, addr, on)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return err
	}

	return response.ParseWriteCoilResponse(addr, on)
}

// ReadCoils liest Coils
func (c *Client) ReadCoils(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]bool, error) {
	request := ReadCoilsRequest(0, unitID, startAddr, quantity)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return nil, err
	}

	return response.ParseCoilResponse(quantity)
}
