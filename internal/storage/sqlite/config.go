package sqlite

import (
	"fmt"
)

type Config struct {
	DatabasePath string
	// BusyTimeout is how long SQLite waits on a locked database, in milliseconds
	BusyTimeout int
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout must not be negative")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString returns the go-sqlite3 DSN
func (c *Config) GetConnectionString() string {
	timeout := c.BusyTimeout
	if timeout == 0 {
		timeout = 5000
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", c.DatabasePath, timeout)
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./flow_triggers.db",
		BusyTimeout:  5000,
	}
}
