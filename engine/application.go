package engine

import (
	"github.com/spaghettifunk/cascade/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	// Engine is the full configuration the application was loaded from.
	Engine *core.EngineConfig
}

// NewApplicationConfig derives the application settings from a validated
// engine configuration.
func NewApplicationConfig(cfg *core.EngineConfig) (*ApplicationConfig, error) {
	level, err := core.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return &ApplicationConfig{
		StartPosX:   cfg.Application.StartPosX,
		StartPosY:   cfg.Application.StartPosY,
		StartWidth:  cfg.Application.StartWidth,
		StartHeight: cfg.Application.StartHeight,
		Name:        cfg.Application.Name,
		LogLevel:    level,
		Engine:      cfg,
	}, nil
}
