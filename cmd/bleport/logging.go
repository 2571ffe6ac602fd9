package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/pkg/config"
)

// configureLogger builds the logger from the config, letting --log-level win.
func configureLogger(opts *globalOptions, cfg *config.Config) (*logrus.Logger, error) {
	if opts.logLevel != "" {
		switch opts.logLevel {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = opts.logLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", opts.logLevel)
		}
	}
	return cfg.NewLogger(), nil
}
