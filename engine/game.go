package engine

import "time"

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Initialize declares the phases of the render graph on the builder.
type Initialize func(builder *GraphBuilder) error
type Update func(deltaTime time.Duration) error

// Render returns the scene handed to every phase of the frame.
type Render func(deltaTime time.Duration) (interface{}, error)
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
