package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/models"
)

// Publish sends event to topic in the form Consumer reads
func Publish(ctx context.Context, broker brokers.Broker, topic string, event models.InboundEvent) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.InternalError("failed to encode inbound event", err)
	}

	message := &brokers.Message{
		Queue:     topic,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Headers: map[string]string{
			"kind":   env.Kind,
			"org_id": strconv.FormatInt(event.Org(), 10),
		},
	}
	if key := event.EventKey(); key != "" {
		message.MessageID = key
	}
	return broker.Publish(ctx, message)
}
