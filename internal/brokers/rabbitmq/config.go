package rabbitmq

import (
	"fmt"
	"net/url"

	"storefront-fulfillment/internal/common/validation"
)

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`
	Queue    string `json:"queue" validate:"required"`
	// Prefetch bounds how many fulfillments one consumer runs at once
	Prefetch int `json:"prefetch" validate:"min=1,max=64"`
}

func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.Queue == "" {
		c.Queue = "order_fulfillment"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 4
	}

	return validation.ValidateStruct(c)
}

// GetConnectionString returns the broker address without credentials, for logs
func (c *Config) GetConnectionString() string {
	if parsedURL, err := url.Parse(c.URL); err == nil {
		parsedURL.User = nil
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}
