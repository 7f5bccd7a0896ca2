package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a zap logger: JSON output in production, console output elsewhere.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
