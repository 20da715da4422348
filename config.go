package statechart

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings of a System.
type Config struct {
	// MailboxSize bounds each actor's mailbox. Zero means unbounded.
	MailboxSize int `env:"STATECHART_MAILBOX_SIZE" envDefault:"0"`
	// LogLevel builds a text logger on stderr when no logger is given.
	LogLevel *slog.Level `env:"STATECHART_LOG_LEVEL"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if config.MailboxSize < 0 {
		return Config{}, fmt.Errorf("parse env: STATECHART_MAILBOX_SIZE must not be negative, got %d", config.MailboxSize)
	}
	return config, nil
}
