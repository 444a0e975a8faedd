package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/brokers/memory"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/common/utils"
	"flow-triggers/internal/models"
)

func TestBrokerEngine_Start(t *testing.T) {
	broker, err := memory.NewBroker(nil)
	require.NoError(t, err)

	engine := NewBrokerEngine(broker, "workflow-starts", logging.NewNopLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	msg := &models.Message{ID: 9, OrgID: 1, Text: "join now"}
	err = engine.Start(context.Background(), StartRequest{
		OrgID:               1,
		WorkflowID:          3,
		TriggerID:           7,
		ContactIDs:          []int64{42},
		Message:             msg,
		RestartParticipants: true,
	})
	require.NoError(t, err)

	published := broker.Messages("workflow-starts")
	require.Len(t, published, 1)
	assert.True(t, strings.HasPrefix(published[0].MessageID, "start_"))
	assert.Equal(t, "3", published[0].Headers["workflow_id"])
	assert.Equal(t, "7", published[0].Headers["trigger_id"])

	req, err := DecodeStartRequest(published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, published[0].MessageID, req.ID)
	assert.Equal(t, int64(3), req.WorkflowID)
	assert.Equal(t, []int64{42}, req.ContactIDs)
	assert.True(t, req.RestartParticipants)
	assert.Equal(t, "join now", req.Message.Text)
	assert.True(t, fixed.Equal(req.RequestedAt))
}

func TestBrokerEngine_KeepsGivenID(t *testing.T) {
	broker, err := memory.NewBroker(nil)
	require.NoError(t, err)

	engine := NewBrokerEngine(broker, "starts", logging.NewNopLogger())
	require.NoError(t, engine.Start(context.Background(), StartRequest{ID: "start_fixed", WorkflowID: 1}))

	assert.Equal(t, "start_fixed", broker.Messages("starts")[0].MessageID)
}

type flakyBroker struct {
	*memory.Broker
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBroker) Publish(ctx context.Context, message *brokers.Message) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("broker unavailable")
	}
	return f.Broker.Publish(ctx, message)
}

func TestBrokerEngine_RetriesTransientFailures(t *testing.T) {
	inner, err := memory.NewBroker(nil)
	require.NoError(t, err)
	broker := &flakyBroker{Broker: inner, failures: 2}

	engine := NewBrokerEngine(broker, "starts", logging.NewNopLogger()).
		WithRetry(utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1})

	require.NoError(t, engine.Start(context.Background(), StartRequest{WorkflowID: 1}))
	assert.Equal(t, 3, broker.calls)
	assert.Len(t, inner.Messages("starts"), 1)
}

func TestBrokerEngine_FailureIsReported(t *testing.T) {
	inner, err := memory.NewBroker(nil)
	require.NoError(t, err)
	broker := &flakyBroker{Broker: inner, failures: 100}

	engine := NewBrokerEngine(broker, "starts", logging.NewNopLogger()).
		WithRetry(utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 1})

	err = engine.Start(context.Background(), StartRequest{WorkflowID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish workflow start")
	assert.Empty(t, inner.Messages("starts"))
}

func TestDecodeStartRequest_Malformed(t *testing.T) {
	_, err := DecodeStartRequest([]byte("{"))
	assert.Error(t, err)
}
