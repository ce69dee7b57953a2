// Package logging builds the zap logger shared by every snapkeep command.
package logging

import "go.uber.org/zap"

// Build constructs a zap logger at the given level ("debug", "info",
// "warn", "error"). Unrecognised levels fall back to "info". Development
// mode (human-readable console output) is used for "debug";
// every other level gets the production JSON encoder.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
