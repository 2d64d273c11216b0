package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Level   string
	Env     string
	Format  string
	Service string
}

func (c *Config) LoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:   c.Log.Level,
		Env:     c.Env,
		Format:  c.Log.Format,
		Service: c.Tracing.ServiceName,
	}
}

// NewLogger starts from zap's production preset in prod and the development
// preset elsewhere. Format overrides the preset encoding.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Env == "prod" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Format {
	case "":
	case "json", "console":
		zapCfg.Encoding = cfg.Format
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fields := map[string]any{"env": cfg.Env}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	zapCfg.InitialFields = fields

	return zapCfg.Build()
}
