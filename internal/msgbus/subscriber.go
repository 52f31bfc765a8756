// Package msgbus receives classification metadata from a publisher over websocket.
package msgbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Maximum metadata document accepted from the publisher
	maxMessageSize = 1 << 20

	// Time allowed to send the close frame
	writeWait = time.Second

	handshakeTimeout = 10 * time.Second
)

// ErrClosed is returned by Recv after the publisher ended the stream or Close was called.
var ErrClosed = errors.New("subscription closed")

// Message is one received metadata document.
type Message struct {
	Payload    []byte
	ReceivedAt time.Time
}

// Subscriber delivers messages of a single topic in order.
type Subscriber interface {
	// Recv blocks until a message arrives or ctx ends.
	Recv(ctx context.Context) (*Message, error)
	Close() error
}

// WebsocketSubscriber reads metadata frames from a websocket publisher.
type WebsocketSubscriber struct {
	route  Route
	conn   *websocket.Conn
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial opens the websocket subscription for route.
func Dial(ctx context.Context, route Route, logger *zap.Logger) (*WebsocketSubscriber, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, route.URL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s at %s: %w", route, route.URL(), err)
	}

	conn.SetReadLimit(maxMessageSize)

	logger.Info("Subscribed to topic",
		zap.String("topic", route.Topic),
		zap.String("publisher", route.Publisher),
		zap.String("url", route.URL()))

	return &WebsocketSubscriber{
		route:  route,
		conn:   conn,
		logger: logger,
	}, nil
}

func (s *WebsocketSubscriber) Recv(ctx context.Context) (*Message, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	// Closing the connection is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, fmt.Errorf("receive on %s: %w", s.route, err)
	}

	return &Message{Payload: data, ReceivedAt: time.Now()}, nil
}

// Close sends a close frame and releases the connection. Safe to call more than once.
func (s *WebsocketSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}

		s.logger.Info("Subscription closed", zap.String("topic", s.route.Topic))
	})

	return s.closeErr
}
