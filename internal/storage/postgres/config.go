package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"flow-triggers/internal/common/validation"
)

// Config locates one PostgreSQL database
type Config struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=0,max=65535"`
	Database string `validate:"required"`
	Username string `validate:"required"`
	Password string
	SSLMode  string `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

// Validate fills in the default port and ssl mode and checks the rest
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return validation.ValidateStruct(c)
}

func (c *Config) GetType() string {
	return "postgres"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func NewConfigFromURL(connStr string) (*Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}
	if len(u.Path) < 2 {
		return nil, fmt.Errorf("invalid PostgreSQL URL: missing database name")
	}

	config := &Config{
		Host:     u.Hostname(),
		Port:     5432,
		Database: u.Path[1:],
		Username: u.User.Username(),
		SSLMode:  "prefer",
	}

	if u.Port() != "" {
		if port, err := strconv.Atoi(u.Port()); err == nil {
			config.Port = port
		}
	}

	if password, ok := u.User.Password(); ok {
		config.Password = password
	}

	if sslMode := u.Query().Get("sslmode"); sslMode != "" {
		config.SSLMode = sslMode
	}

	return config, nil
}

// configFromGeneric converts the registry's map config into a Config
func configFromGeneric(gc map[string]interface{}) *Config {
	str := func(key string) string {
		v, _ := gc[key].(string)
		return v
	}
	port, _ := strconv.Atoi(str("port"))
	return &Config{
		Host:     str("host"),
		Port:     port,
		Database: str("database"),
		Username: str("username"),
		Password: str("password"),
		SSLMode:  str("sslmode"),
	}
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		Database: "flow_triggers",
		Username: "postgres",
		Password: "",
		SSLMode:  "prefer",
	}
}
