package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/brokers"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	broker, err := NewBroker(&Config{
		Address:       s.Addr(),
		ConsumerGroup: "test_group",
		ConsumerName:  "test_consumer",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		broker.Close()
		s.Close()
	})
	return broker, s
}

func TestNewBroker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: &Config{Address: s.Addr()},
		},
		{
			name:    "invalid config - empty address",
			config:  &Config{},
			wantErr: true,
			errMsg:  "address is required",
		},
		{
			name:    "connection failure",
			config:  &Config{Address: "127.0.0.1:1", Timeout: 200 * time.Millisecond},
			wantErr: true,
			errMsg:  "failed to connect to Redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker, err := NewBroker(tt.config)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, broker)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "redis", broker.Name())
			assert.Equal(t, "flow-triggers", tt.config.ConsumerGroup, "defaults are applied")
			assert.NoError(t, broker.Health())
			broker.Close()
		})
	}
}

func TestBroker_Publish(t *testing.T) {
	broker, s := newTestBroker(t)

	err := broker.Publish(context.Background(), &brokers.Message{
		Queue:     "workflow-starts",
		Body:      []byte(`{"workflow_id":1}`),
		MessageID: "abc",
		Headers:   map[string]string{"org_id": "1"},
	})
	require.NoError(t, err)

	entries, err := s.Stream("workflow-starts")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, `{"workflow_id":1}`, values["body"])
	assert.Equal(t, "abc", values["message_id"])
	assert.Equal(t, "1", values["header_org_id"])
}

func TestBroker_PublishDefaultStream(t *testing.T) {
	broker, s := newTestBroker(t)

	require.NoError(t, broker.Publish(context.Background(), &brokers.Message{Body: []byte("x")}))

	entries, err := s.Stream(defaultStream)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBroker_SubscribeReceivesAndAcks(t *testing.T) {
	broker, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []*brokers.IncomingMessage

	err := broker.Subscribe(ctx, "inbound-events", func(ctx context.Context, msg *brokers.IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, broker.Publish(ctx, &brokers.Message{
			Queue:     "inbound-events",
			Body:      []byte(fmt.Sprintf(`{"n":%d}`, i)),
			MessageID: fmt.Sprintf("m%d", i),
			Headers:   map[string]string{"event_type": "message"},
		}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "m0", received[0].ID)
	assert.Equal(t, "message", received[0].Headers["event_type"])
	assert.Equal(t, `{"n":0}`, string(received[0].Body))
	assert.Equal(t, "redis", received[0].Source.Type)
}

func TestBroker_NotConnected(t *testing.T) {
	broker, _ := newTestBroker(t)
	require.NoError(t, broker.Close())

	assert.Error(t, broker.Publish(context.Background(), &brokers.Message{}))
	assert.Error(t, broker.Subscribe(context.Background(), "t", nil))
	assert.Error(t, broker.Health())
}

func TestBroker_Connect(t *testing.T) {
	broker, _ := newTestBroker(t)

	other, err := miniredis.Run()
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, broker.Connect(&Config{Address: other.Addr()}))
	require.NoError(t, broker.Publish(context.Background(), &brokers.Message{Queue: "s", Body: []byte("x")}))
	assert.True(t, other.Exists("s"))

	assert.Error(t, broker.Connect(&wrongConfig{}))
}

type wrongConfig struct{}

func (w *wrongConfig) Validate() error             { return nil }
func (w *wrongConfig) GetConnectionString() string { return "" }
func (w *wrongConfig) GetType() string             { return "wrong" }

func TestGetFactory(t *testing.T) {
	assert.True(t, brokers.DefaultRegistry.IsRegistered("redis"))
	assert.Equal(t, "redis", GetFactory().GetType())
}
