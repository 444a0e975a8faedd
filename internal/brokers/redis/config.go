package redis

import (
	"fmt"
	"time"
)

type Config struct {
	Address       string
	Password      string
	DB            int
	PoolSize      int
	Timeout       time.Duration
	StreamMaxLen  int64 // 0 means unbounded
	ConsumerGroup string
	ConsumerName  string
}

// Validate checks the address and fills in defaults
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("Redis address is required")
	}

	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.StreamMaxLen < 0 {
		c.StreamMaxLen = 0
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "flow-triggers"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "flow-triggers-consumer"
	}

	return nil
}

func (c *Config) GetType() string {
	return "redis"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("redis://%s/%d", c.Address, c.DB)
}

func DefaultConfig() *Config {
	return &Config{
		Address:       "localhost:6379",
		PoolSize:      10,
		Timeout:       5 * time.Second,
		ConsumerGroup: "flow-triggers",
		ConsumerName:  "flow-triggers-consumer",
	}
}
