// Package controlloop runs the receive → evaluate → actuate cycle for one topic.
package controlloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/factoryctrl/internal/defect"
	"github.com/KevinKickass/factoryctrl/internal/msgbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrConnect        = errors.New("actuator connection failed")
	ErrNoTopic        = errors.New("no subscription topic configured")
	ErrMultipleTopics = errors.New("multiple subscription topics are not supported")
	ErrSubscribe      = errors.New("subscription failed")
	ErrReceive        = errors.New("receive failed")
	ErrNullMessage    = errors.New("received null metadata")
	ErrEvaluation     = errors.New("metadata evaluation failed")
	ErrAlreadyRun     = errors.New("control loop already ran")
)

// Actuator is the signal light driver.
type Actuator interface {
	Connect(ctx context.Context) error
	SetAlarm(ctx context.Context, alarm bool) error
	Close() error
}

// SubscriberFactory opens the subscription for a "<publisher>/<topic>" entry.
type SubscriberFactory func(ctx context.Context, sub string) (msgbus.Subscriber, error)

type EventKind string

const (
	EventDecision     EventKind = "decision"
	EventWriteFailure EventKind = "write_failure"
	EventStateChange  EventKind = "state_change"
)

// Event is published to the EventSink after each decision and on lifecycle changes.
type Event struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"message_id,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives loop events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Status is a snapshot of the loop for the status API. Alarms and Clears count
// decisions that reached both coils; a failed write only counts in WriteFailures.
type Status struct {
	State         string    `json:"state"`
	Topic         string    `json:"topic,omitempty"`
	Received      uint64    `json:"received"`
	Alarms        uint64    `json:"alarms"`
	Clears        uint64    `json:"clears"`
	WriteFailures uint64    `json:"write_failures"`
	LastDecision  string    `json:"last_decision,omitempty"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
}

type Loop struct {
	actuator  Actuator
	subscribe SubscriberFactory
	topics    []string
	logger    *zap.Logger
	sink      EventSink

	mu      sync.RWMutex
	started bool
	state   State
	status  Status
}

func New(actuator Actuator, subscribe SubscriberFactory, topics []string, logger *zap.Logger) *Loop {
	return &Loop{
		actuator:  actuator,
		subscribe: subscribe,
		topics:    topics,
		logger:    logger,
		state:     StateInit,
	}
}

// SetEventSink registers a sink for decision and lifecycle events. Call before Run.
func (l *Loop) SetEventSink(sink EventSink) {
	l.sink = sink
}

func (l *Loop) publish(e Event) {
	if l.sink == nil {
		return
	}
	e.Timestamp = time.Now()
	l.sink.Publish(e)
}

// Run processes messages until ctx is cancelled (nil) or a fatal error occurs.
// Write failures are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyRun
	}
	l.started = true
	l.mu.Unlock()
	defer l.setState(StateTerminated)

	topic, err := l.selectTopic()
	if err != nil {
		l.logger.Error("Invalid subscription topics", zap.Strings("topics", l.topics), zap.Error(err))
		return err
	}

	l.setState(StateConnecting)
	if err := l.actuator.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			l.logger.Info("Shutdown requested while connecting")
			return nil
		}
		l.logger.Error("Modbus connection failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		if err := l.actuator.Close(); err != nil {
			l.logger.Warn("Failed to close actuator", zap.Error(err))
		}
	}()

	l.logger.Info("Subscribing on topic", zap.String("topic", topic))

	subscriber, err := l.subscribe(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			l.logger.Info("Shutdown requested while subscribing")
			return nil
		}
		l.logger.Error("Subscription failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			l.logger.Warn("Failed to close subscription", zap.Error(err))
		}
	}()

	l.mu.Lock()
	l.status.Topic = topic
	l.mu.Unlock()
	l.setState(StateSubscribed)

	for {
		msg, err := subscriber.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Shutdown requested, quitting")
				return nil
			}
			l.logger.Error("Receive failed", zap.String("topic", topic), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrReceive, err)
		}

		if err := l.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (l *Loop) selectTopic() (string, error) {
	switch len(l.topics) {
	case 0:
		return "", ErrNoTopic
	case 1:
		return l.topics[0], nil
	default:
		return "", fmt.Errorf("%w: %d configured", ErrMultipleTopics, len(l.topics))
	}
}

// handle evaluates one message and drives the light. Only fatal errors are returned.
func (l *Loop) handle(ctx context.Context, msg *msgbus.Message) (err error) {
	id := uuid.New()
	logger := l.logger.With(zap.String("message_id", id.String()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Unhandled panic while processing message", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: panic: %v", ErrEvaluation, r)
		}
	}()

	l.setState(StateEvaluating)

	if msg == nil {
		logger.Error("Received nil message")
		return ErrNullMessage
	}

	metadata, err := defect.Decode(msg.Payload)
	if err != nil {
		logger.Error("Failed to decode metadata", zap.ByteString("payload", msg.Payload), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	if metadata == nil {
		logger.Error("Received None as metadata")
		return ErrNullMessage
	}

	decision, err := defect.Evaluate(metadata)
	if err != nil {
		logger.Error("Failed to evaluate metadata", zap.ByteString("payload", msg.Payload), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	l.setState(StateActuating)

	writeErr := l.actuator.SetAlarm(ctx, decision.IsAlarm())
	if writeErr != nil {
		logger.Error("Failed to drive alarm light",
			zap.Stringer("decision", decision),
			zap.Error(writeErr))
	} else if decision.IsAlarm() {
		logger.Info("AlarmLight Triggered", zap.Int("defects", len(metadata.Defects)))
	} else {
		logger.Debug("AlarmLight cleared")
	}

	l.record(id, decision, writeErr)
	l.setState(StateSubscribed)

	return nil
}

func (l *Loop) record(id uuid.UUID, decision defect.Decision, writeErr error) {
	event := Event{Kind: EventDecision, MessageID: id.String(), Decision: decision.String()}
	if writeErr != nil {
		event.Kind = EventWriteFailure
		event.Error = writeErr.Error()
	}
	defer l.publish(event)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.status.Received++
	switch {
	case writeErr != nil:
		l.status.WriteFailures++
	case decision.IsAlarm():
		l.status.Alarms++
	default:
		l.status.Clears++
	}
	l.status.LastDecision = decision.String()
	l.status.LastMessageID = id.String()
	l.status.LastMessageAt = time.Now()
}

func (l *Loop) setState(to State) {
	l.mu.Lock()
	from := l.state
	if from == to {
		l.mu.Unlock()
		return
	}
	if err := ValidateTransition(from, to); err != nil {
		l.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	l.state = to
	l.mu.Unlock()

	l.logger.Debug("Control loop state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	// Per-message EVALUATING/ACTUATING flips are covered by decision events.
	if to == StateConnecting || to == StateTerminated || (to == StateSubscribed && from == StateConnecting) {
		l.publish(Event{Kind: EventStateChange, State: to.String()})
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Status returns a snapshot of counters and the last decision.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.status
	s.State = l.state.String()
	return s
}
