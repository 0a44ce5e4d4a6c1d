package graph

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/cascade/engine/core"
)

// BackBufferSlot is one level of multi-buffering: the command buffer recorded
// into, the semaphore pair ordering it against its neighbours, and the fence
// telling the CPU when the GPU is done with it.
type BackBufferSlot struct {
	CommandBuffer       CommandBuffer
	AcquireSemaphore    Semaphore
	CompletionSemaphore Semaphore
	InFlightFence       Fence
}

func newBackBufferSlot(device Device) (*BackBufferSlot, error) {
	slot := &BackBufferSlot{}

	cb, err := device.NewCommandBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate command buffer: %w", err)
	}
	slot.CommandBuffer = cb

	if slot.AcquireSemaphore, err = device.NewSemaphore(); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create acquire semaphore: %w", err)
	}
	if slot.CompletionSemaphore, err = device.NewSemaphore(); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create completion semaphore: %w", err)
	}
	// Created signaled so the very first wait on it does not block forever.
	if slot.InFlightFence, err = device.NewFence(true); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create in-flight fence: %w", err)
	}
	return slot, nil
}

// wait blocks until the GPU released the slot. A timeout is not recoverable
// here and aborts.
func (s *BackBufferSlot) wait() error {
	if err := s.InFlightFence.Wait(FenceTimeoutNS); err != nil {
		if errors.Is(err, core.ErrFenceTimeout) {
			fatal(fmt.Errorf("back-buffer slot fence: %w", err))
		}
		return err
	}
	return nil
}

func (s *BackBufferSlot) destroy() {
	if s.InFlightFence != nil {
		s.InFlightFence.Destroy()
		s.InFlightFence = nil
	}
	if s.CompletionSemaphore != nil {
		s.CompletionSemaphore.Destroy()
		s.CompletionSemaphore = nil
	}
	if s.AcquireSemaphore != nil {
		s.AcquireSemaphore.Destroy()
		s.AcquireSemaphore = nil
	}
	if s.CommandBuffer != nil {
		s.CommandBuffer.Free()
		s.CommandBuffer = nil
	}
}

// slotTable is the [pool][bufferingIndex] table owned by a phase.
type slotTable [][]*BackBufferSlot

func newSlotTable(device Device, pools, depth int) (slotTable, error) {
	table := make(slotTable, 0, pools)
	for p := 0; p < pools; p++ {
		row := make([]*BackBufferSlot, 0, depth)
		for b := 0; b < depth; b++ {
			slot, err := newBackBufferSlot(device)
			if err != nil {
				for _, s := range row {
					s.destroy()
				}
				table.destroy()
				return nil, fmt.Errorf("slot [%d][%d]: %w", p, b, err)
			}
			row = append(row, slot)
		}
		table = append(table, row)
	}
	return table, nil
}

func (t slotTable) destroy() {
	for _, row := range t {
		for _, s := range row {
			s.destroy()
		}
	}
}

// fatal is the abort path for synchronization bugs (fence timeouts).
func fatal(err error) {
	core.LogError("fatal synchronization error: %s", err)
	panic(err)
}
