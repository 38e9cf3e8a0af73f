package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MonitorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Leaderboard.TopN < 1 {
		return errors.New("leaderboard.top_n must be >= 1")
	}

	if c.Thresholds.MinValueUSD < 0 {
		return errors.New("thresholds.min_value_usd must be >= 0")
	}
	if c.Thresholds.MinLeverage < 0 {
		return errors.New("thresholds.min_leverage must be >= 0")
	}

	if c.Subscriptions.BatchSize < 1 {
		return errors.New("subscriptions.batch_size must be >= 1")
	}
	if c.Subscriptions.BufferSize < 1 {
		return errors.New("subscriptions.buffer_size must be >= 1")
	}

	if c.Dedup.Retain >= c.Dedup.Cap {
		return fmt.Errorf("dedup.retain (%d) must be less than dedup.cap (%d)", c.Dedup.Retain, c.Dedup.Cap)
	}

	if c.Journal.Database.Host != "" {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
