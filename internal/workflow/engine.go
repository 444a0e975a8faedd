// Package workflow hands start requests to the flow engine. The trigger
// engine never runs flows itself; it publishes what to start and for whom.
package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/circuitbreaker"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/common/utils"
	"flow-triggers/internal/models"
)

// StartRequest asks the flow engine to start a workflow for the union of
// the given groups and contacts.
type StartRequest struct {
	ID                  string          `json:"id"`
	OrgID               int64           `json:"org_id"`
	WorkflowID          int64           `json:"workflow_id"`
	TriggerID           int64           `json:"trigger_id,omitempty"`
	GroupIDs            []int64         `json:"group_ids,omitempty"`
	ContactIDs          []int64         `json:"contact_ids,omitempty"`
	Message             *models.Message `json:"message,omitempty"`
	RestartParticipants bool            `json:"restart_participants"`
	RequestedAt         time.Time       `json:"requested_at"`
}

// Engine starts workflows
type Engine interface {
	Start(ctx context.Context, req StartRequest) error
}

// BrokerEngine publishes start requests to a broker topic, behind a
// circuit breaker and a short retry
type BrokerEngine struct {
	broker  brokers.Broker
	topic   string
	breaker *circuitbreaker.Breaker
	retry   utils.RetryConfig
	now     func() time.Time
	logger  logging.Logger
}

// NewBrokerEngine creates an engine publishing to topic
func NewBrokerEngine(broker brokers.Broker, topic string, logger logging.Logger) *BrokerEngine {
	logger = logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "workflow_engine"})

	retry := utils.DefaultRetryConfig()
	retry.RetryableErrors = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeValidation) && !errors.IsType(err, errors.ErrTypeConfig)
	}

	return &BrokerEngine{
		broker:  broker,
		topic:   topic,
		breaker: circuitbreaker.New("workflow-start", circuitbreaker.WorkflowStartConfig, logger),
		retry:   retry,
		now:     time.Now,
		logger:  logger,
	}
}

// WithRetry replaces the publish retry policy
func (e *BrokerEngine) WithRetry(retry utils.RetryConfig) *BrokerEngine {
	e.retry = retry
	return e
}

// Start publishes req. An empty ID is filled with a fresh one.
func (e *BrokerEngine) Start(ctx context.Context, req StartRequest) error {
	if req.ID == "" {
		req.ID = utils.NewID("start")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = e.now().UTC()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.InternalError("failed to encode start request", err)
	}

	message := &brokers.Message{
		Queue:     e.topic,
		MessageID: req.ID,
		Body:      body,
		Timestamp: req.RequestedAt,
		Headers: map[string]string{
			"org_id":      strconv.FormatInt(req.OrgID, 10),
			"workflow_id": strconv.FormatInt(req.WorkflowID, 10),
			"trigger_id":  strconv.FormatInt(req.TriggerID, 10),
		},
	}

	err = e.breaker.Execute(ctx, func() error {
		return utils.RetryWithBackoff(ctx, e.retry, func() error {
			return e.broker.Publish(ctx, message)
		})
	})
	if err != nil {
		return errors.ConnectionError("failed to publish workflow start", err).
			WithContext("workflow_id", req.WorkflowID).
			WithContext("start_id", req.ID)
	}

	e.logger.Debug("Workflow start published",
		logging.Field{Key: "start_id", Value: req.ID},
		logging.Field{Key: "workflow_id", Value: req.WorkflowID},
		logging.Field{Key: "trigger_id", Value: req.TriggerID},
	)
	return nil
}

// DecodeStartRequest parses a start request published by BrokerEngine
func DecodeStartRequest(body []byte) (StartRequest, error) {
	var req StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.ValidationError("malformed start request").WithCause(err)
	}
	return req, nil
}

var _ Engine = (*BrokerEngine)(nil)
