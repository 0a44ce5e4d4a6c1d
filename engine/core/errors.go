package core

import (
	"errors"
)

var (
	ErrSwapchainBooting   = errors.New("swapchain resized or recreated, booting")
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrFenceTimeout       = errors.New("fence wait timed out")
	ErrDeviceLost         = errors.New("device lost")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrEmptyGraph         = errors.New("render graph has no steady-state phases")
	ErrUnknown            = errors.New("unknown")
)
