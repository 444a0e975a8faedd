package rabbitmq

import (
	"fmt"
	"net/url"

	"flow-triggers/internal/common/validation"
)

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`
	Prefetch int    `json:"prefetch" validate:"min=0,max=1000"`
}

func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}

	return validation.ValidateStruct(c)
}

// GetConnectionString returns the broker address without credentials
func (c *Config) GetConnectionString() string {
	if parsedURL, err := url.Parse(c.URL); err == nil {
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}

func (c *Config) GetType() string {
	return "rabbitmq"
}
