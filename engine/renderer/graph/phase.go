package graph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/cascade/engine/core"
)

type PhaseKind uint8

const (
	PhaseKindRender PhaseKind = iota
	PhaseKindCompute
)

func (k PhaseKind) String() string {
	if k == PhaseKindCompute {
		return "compute"
	}
	return "render"
}

// RecordInfo is everything a phase needs to record one pool for one repeat.
type RecordInfo struct {
	FrameNumber uint64
	ImageIndex  uint32
	// Repeat is the index of this render within the current frame.
	Repeat    int
	PoolIndex int
	Area      Rect
	Scene     interface{}
	// Input is the previous submission's output, threaded by the graph.
	Input Output
}

// Phase is one unit of recorded and submitted GPU work per frame, with its own
// back-buffer slots. Implemented by *RenderPhase and *ComputePhase.
type Phase interface {
	Name() string
	ID() uuid.UUID
	Kind() PhaseKind

	BufferingDepth() int
	CurrentBufferIndex() int
	FramebufferPoolSize() int
	SingleFrameRenderCount() int
	IsOneShotCapture() bool
	SwapchainDerived() bool

	Record(info RecordInfo) (Output, error)
	Submit(wait Semaphore, poolIndex int) error
	Swap()

	CurrentSlot(poolIndex int) *BackBufferSlot
	AcquireSemaphore(poolIndex int) Semaphore
	CompletionSemaphore(poolIndex int) Semaphore
	CurrentFence(poolIndex int) Fence
	MostRecentOutput(poolIndex int) Output

	UpdateSwapchain(target TargetSource) error
	Destroy()
}

// phaseBase carries the slot bookkeeping shared by both phase kinds.
type phaseBase struct {
	id          uuid.UUID
	name        string
	device      Device
	queue       Queue
	waitStage   PipelineStage
	depth       int
	renderCount int
	oneShot     bool

	slots              slotTable
	currentBufferIndex int
	// lastOutputs[pool] is what the latest record of that pool produced.
	lastOutputs []Output
}

func newPhaseBase(device Device, queue Queue, stage PipelineStage, name string, depth, renderCount, pools int, oneShot bool) (*phaseBase, error) {
	if device == nil {
		return nil, fmt.Errorf("phase %q: nil device: %w", name, core.ErrInvalidConfig)
	}
	if depth < 1 || depth > core.MaxBufferingDepth {
		return nil, fmt.Errorf("phase %q: buffering depth must be in [1, %d], got %d: %w", name, core.MaxBufferingDepth, depth, core.ErrInvalidConfig)
	}
	if renderCount < 1 {
		return nil, fmt.Errorf("phase %q: render count must be >= 1, got %d: %w", name, renderCount, core.ErrInvalidConfig)
	}
	if pools < 1 {
		return nil, fmt.Errorf("phase %q: needs at least one pool: %w", name, core.ErrInvalidConfig)
	}

	slots, err := newSlotTable(device, pools, depth)
	if err != nil {
		return nil, fmt.Errorf("phase %q: %w", name, err)
	}

	return &phaseBase{
		id:          uuid.New(),
		name:        name,
		device:      device,
		queue:       queue,
		waitStage:   stage,
		depth:       depth,
		renderCount: renderCount,
		oneShot:     oneShot,
		slots:       slots,
		lastOutputs: make([]Output, pools),
	}, nil
}

func (pb *phaseBase) Name() string                { return pb.name }
func (pb *phaseBase) ID() uuid.UUID               { return pb.id }
func (pb *phaseBase) BufferingDepth() int         { return pb.depth }
func (pb *phaseBase) CurrentBufferIndex() int     { return pb.currentBufferIndex }
func (pb *phaseBase) FramebufferPoolSize() int    { return len(pb.slots) }
func (pb *phaseBase) SingleFrameRenderCount() int { return pb.renderCount }
func (pb *phaseBase) IsOneShotCapture() bool      { return pb.oneShot }

func (pb *phaseBase) CurrentSlot(poolIndex int) *BackBufferSlot {
	return pb.slots[poolIndex][pb.currentBufferIndex]
}

func (pb *phaseBase) AcquireSemaphore(poolIndex int) Semaphore {
	return pb.CurrentSlot(poolIndex).AcquireSemaphore
}

func (pb *phaseBase) CompletionSemaphore(poolIndex int) Semaphore {
	return pb.CurrentSlot(poolIndex).CompletionSemaphore
}

func (pb *phaseBase) CurrentFence(poolIndex int) Fence {
	return pb.CurrentSlot(poolIndex).InFlightFence
}

func (pb *phaseBase) MostRecentOutput(poolIndex int) Output {
	return pb.lastOutputs[poolIndex]
}

// Swap advances to the next back-buffer slot. Called once per presented frame.
func (pb *phaseBase) Swap() {
	pb.currentBufferIndex = (pb.currentBufferIndex + 1) % pb.depth
}

// beginRecording gates slot reuse and opens the command buffer. For repeat 0
// the renderer already waited on the fence before acquiring the image.
//
// Once the fence is known idle and reset, any later failure leaves it
// unsignaled with nothing queued, so it is re-armed here. A failed wait means
// the fence may still belong to a pending submission and is left alone.
func (pb *phaseBase) beginRecording(info RecordInfo) (*BackBufferSlot, error) {
	if info.PoolIndex < 0 || info.PoolIndex >= len(pb.slots) {
		return nil, fmt.Errorf("phase %q: pool index %d out of range [0, %d)", pb.name, info.PoolIndex, len(pb.slots))
	}
	slot := pb.CurrentSlot(info.PoolIndex)

	if info.Repeat > 0 {
		if err := slot.wait(); err != nil {
			return nil, fmt.Errorf("phase %q: slot reuse for repeat %d: %w", pb.name, info.Repeat, err)
		}
		if err := slot.InFlightFence.Reset(); err != nil {
			pb.rearmFence(slot)
			return nil, fmt.Errorf("phase %q: reset fence for repeat %d: %w", pb.name, info.Repeat, err)
		}
	}

	if err := slot.CommandBuffer.Reset(); err != nil {
		pb.rearmFence(slot)
		return nil, fmt.Errorf("phase %q: reset command buffer: %w", pb.name, err)
	}
	if err := slot.CommandBuffer.Begin(); err != nil {
		pb.rearmFence(slot)
		return nil, fmt.Errorf("phase %q: begin command buffer: %w", pb.name, err)
	}
	return slot, nil
}

// Submit sends the current slot of the pool to the phase queue. It waits on
// wait when given, else on the slot's own acquire semaphore, and signals the
// slot's completion semaphore and fence.
func (pb *phaseBase) Submit(wait Semaphore, poolIndex int) error {
	if poolIndex < 0 || poolIndex >= len(pb.slots) {
		return fmt.Errorf("phase %q: pool index %d out of range [0, %d)", pb.name, poolIndex, len(pb.slots))
	}
	slot := pb.CurrentSlot(poolIndex)
	if wait == nil {
		wait = slot.AcquireSemaphore
	}

	err := pb.queue.Submit(SubmitInfo{
		CommandBuffer: slot.CommandBuffer,
		Wait:          wait,
		WaitStage:     pb.waitStage,
		Signal:        slot.CompletionSemaphore,
		Fence:         slot.InFlightFence,
	})
	if err != nil {
		err = fmt.Errorf("phase %q: submit pool %d: %w", pb.name, poolIndex, err)
		core.LogError(err.Error())
		pb.rearmFence(slot)
		return err
	}
	return nil
}

// rearmFence replaces the slot fence with a signaled one. Used when the slot
// was reset for this frame but nothing reached the queue, so the next wait on
// it would otherwise never return.
func (pb *phaseBase) rearmFence(slot *BackBufferSlot) {
	fence, err := pb.device.NewFence(true)
	if err != nil {
		core.LogError("phase %q: failed to re-arm fence: %s", pb.name, err)
		return
	}
	slot.InFlightFence.Destroy()
	slot.InFlightFence = fence
}

// destroy waits for the queue so no in-flight submission still references the
// slots, then releases them.
func (pb *phaseBase) destroy() {
	if pb.slots == nil {
		return
	}
	if err := pb.queue.WaitIdle(); err != nil {
		core.LogWarn("phase %q: queue wait idle before destroy: %s", pb.name, err)
	}
	pb.slots.destroy()
	pb.slots = nil
	core.LogDebug("phase %q (%s) destroyed", pb.name, pb.id)
}
