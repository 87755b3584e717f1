package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// WorkerConfig contains configuration for the recalculation worker service.
type WorkerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Schedule is the cron expression for the periodic full recalculation.
	// Supports the standard 5-field format plus @every descriptors.
	Schedule string `envconfig:"SCHEDULE" default:"@every 15m"`

	// PopTimeout bounds each blocking read on the on-demand queue so the
	// worker can notice context cancellation between messages.
	PopTimeout time.Duration `envconfig:"POP_TIMEOUT" default:"5s" validate:"gt=0"`

	// RecalcTimeout bounds a single segment recalculation.
	RecalcTimeout time.Duration `envconfig:"RECALC_TIMEOUT" default:"2m" validate:"gt=0"`
}

// Validate checks the worker configuration, including that the cron
// expression parses with the same parser the worker uses at runtime.
func (c *WorkerConfig) Validate() error {
	if c.Schedule == "" {
		return fmt.Errorf("worker schedule cannot be empty")
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", c.Schedule, err)
	}

	return nil
}
