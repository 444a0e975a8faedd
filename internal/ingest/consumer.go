// Package ingest consumes inbound events from a broker topic and routes them
// to the trigger dispatcher.
//
// Routing:
//   - message: keyword dispatch, then catch-all triggers when no keyword fired
//   - call: missed-call or inbound-call triggers, by call kind
//   - enrollment: follow triggers
//
// Malformed deliveries are logged and acknowledged so they are not
// redelivered forever. Store and engine failures are returned to the broker
// so the delivery is retried; the fire guard keeps retries from firing a
// trigger twice.
package ingest

import (
	"context"
	"encoding/json"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/common/validation"
	"flow-triggers/internal/models"
)

// Event kinds carried in an Envelope
const (
	KindMessage    = "message"
	KindCall       = "call"
	KindEnrollment = "enrollment"
)

// Envelope is the wire form of one inbound event. Exactly the field named by
// Kind is set.
type Envelope struct {
	Kind       string                   `json:"kind" validate:"required,oneof=message call enrollment"`
	Message    *models.Message          `json:"message,omitempty" validate:"required_if=Kind message"`
	Call       *models.Call             `json:"call,omitempty" validate:"required_if=Kind call"`
	Enrollment *models.ManualEnrollment `json:"enrollment,omitempty" validate:"required_if=Kind enrollment"`
}

// Event returns the envelope's event
func (e *Envelope) Event() models.InboundEvent {
	switch e.Kind {
	case KindMessage:
		return e.Message
	case KindCall:
		return e.Call
	case KindEnrollment:
		return e.Enrollment
	}
	return nil
}

// NewEnvelope wraps event for publishing
func NewEnvelope(event models.InboundEvent) (*Envelope, error) {
	switch e := event.(type) {
	case *models.Message:
		return &Envelope{Kind: KindMessage, Message: e}, nil
	case *models.Call:
		return &Envelope{Kind: KindCall, Call: e}, nil
	case *models.ManualEnrollment:
		return &Envelope{Kind: KindEnrollment, Enrollment: e}, nil
	}
	return nil, errors.InvalidEntityError(event)
}

// Dispatcher is the part of the trigger manager the consumer drives
type Dispatcher interface {
	DispatchInbound(ctx context.Context, msg *models.Message) (bool, error)
	CatchTriggers(ctx context.Context, event models.InboundEvent, typ models.TriggerType, channelID *int64) (bool, error)
}

// Consumer subscribes to the inbound topic
type Consumer struct {
	broker     brokers.Broker
	topic      string
	dispatcher Dispatcher
	logger     logging.Logger
}

// NewConsumer creates a consumer of topic
func NewConsumer(broker brokers.Broker, topic string, dispatcher Dispatcher, logger logging.Logger) *Consumer {
	return &Consumer{
		broker:     broker,
		topic:      topic,
		dispatcher: dispatcher,
		logger: logging.OrGlobal(logger).WithFields(
			logging.Field{Key: "component", Value: "ingest"},
			logging.Field{Key: "topic", Value: topic},
		),
	}
}

// Start subscribes to the topic; consumption stops when ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.broker.Subscribe(ctx, c.topic, c.Handle); err != nil {
		return errors.ConnectionError("failed to subscribe to inbound events", err).WithContext("topic", c.topic)
	}
	c.logger.Info("consuming inbound events", logging.Field{Key: "broker", Value: c.broker.Name()})
	return nil
}

// Handle decodes and routes one delivery. It implements brokers.MessageHandler.
func (c *Consumer) Handle(ctx context.Context, msg *brokers.IncomingMessage) error {
	logger := c.logger.WithFields(logging.Field{Key: "delivery_id", Value: msg.ID})

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		logger.Warn("dropping undecodable inbound event", logging.Err(err))
		return nil
	}
	if err := validation.ValidateStruct(&env); err != nil {
		logger.Warn("dropping invalid inbound event", logging.Err(err))
		return nil
	}

	if event := env.Event(); event != nil {
		ctx = logging.ContextWithOrg(ctx, event.Org())
		ctx = logging.ContextWithEvent(ctx, event.EventKey())
	}

	fired, err := c.route(ctx, &env)
	if err != nil {
		if errors.IsInvalidEntity(err) || errors.IsType(err, errors.ErrTypeValidation) {
			logger.Warn("dropping inbound event", logging.Err(err), logging.Field{Key: "kind", Value: env.Kind})
			return nil
		}
		return err
	}

	logger.Debug("inbound event handled", logging.Field{Key: "kind", Value: env.Kind}, logging.Field{Key: "fired", Value: fired})
	return nil
}

func (c *Consumer) route(ctx context.Context, env *Envelope) (bool, error) {
	switch env.Kind {
	case KindMessage:
		fired, err := c.dispatcher.DispatchInbound(ctx, env.Message)
		if err != nil || fired {
			return fired, err
		}
		return c.dispatcher.CatchTriggers(ctx, env.Message, models.TriggerTypeCatchAll, env.Message.ChannelID)

	case KindCall:
		var typ models.TriggerType
		switch env.Call.Kind {
		case models.CallKindMissed:
			typ = models.TriggerTypeMissedCall
		case models.CallKindInbound:
			typ = models.TriggerTypeInboundCall
		default:
			return false, errors.ValidationError("unknown call kind " + string(env.Call.Kind))
		}
		return c.dispatcher.CatchTriggers(ctx, env.Call, typ, env.Call.ChannelID)

	case KindEnrollment:
		return c.dispatcher.CatchTriggers(ctx, env.Enrollment, models.TriggerTypeFollow, nil)
	}
	return false, errors.InvalidEntityError(env.Event())
}
