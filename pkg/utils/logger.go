package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger returns a zap logger. Debug selects the development config
// (console output, debug level); otherwise the production JSON config is
// used at the given level ("" means info).
func NewLogger(debug bool, level string) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
