// Package logging builds the process-wide zap.Logger used by every
// component. Each cmd/empower1d subcommand constructs one and passes it
// by reference, never held as a package-level global, matching the constructor
// injection pattern the rest of this module follows.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the encoder: production nodes emit structured
// JSON suitable for a log pipeline; development nodes get a readable
// console encoder.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
)

// New builds a *zap.Logger for the given environment and component
// name. The component name is attached as a static field so downstream
// log aggregation can filter by subsystem (bft, p2p, vm, ledger, ...).
func New(env Environment, component string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case Production:
		cfg = zap.NewProductionConfig()
	case Development, "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("logging: unknown environment %q", env)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger.With(zap.String("component", component)), nil
}
