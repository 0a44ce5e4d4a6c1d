package graph

import (
	"math"

	emath "github.com/spaghettifunk/cascade/engine/math"
)

// FenceTimeoutNS is the timeout used for every CPU wait on a fence. It is
// effectively unbounded: a timeout means the GPU hung or the sync is wrong.
const FenceTimeoutNS uint64 = math.MaxUint64

type Extent struct {
	Width  uint32
	Height uint32
}

// Rect is a render area: an offset plus an extent.
type Rect struct {
	X, Y   int32
	Width  uint32
	Height uint32
}

func (r Rect) Extent() Extent {
	return Extent{Width: r.Width, Height: r.Height}
}

// ClampTo shrinks the rect so that it never exceeds the given area. The
// offset is moved inside the area first and the extent shrinks to what is
// left past it, down to zero.
func (r Rect) ClampTo(area Extent) Rect {
	x := emath.Clamp(int64(r.X), 0, int64(area.Width))
	y := emath.Clamp(int64(r.Y), 0, int64(area.Height))
	r.X, r.Y = int32(x), int32(y)
	r.Width = emath.Min(r.Width, area.Width-uint32(x))
	r.Height = emath.Min(r.Height, area.Height-uint32(y))
	return r
}

// Image and ImageView are backend handles the core only carries around.
type Image interface{}
type ImageView interface{}

type Attachment struct {
	Image Image
	View  ImageView
}

type Semaphore interface {
	Destroy()
}

type Fence interface {
	// Wait blocks until the fence is signaled. A timeout is reported with core.ErrFenceTimeout.
	Wait(timeoutNS uint64) error
	Reset() error
	Destroy()
}

type Framebuffer interface {
	Extent() Extent
	Destroy()
}

type RenderPass interface {
	NewFramebuffer(attachments []ImageView, extent Extent) (Framebuffer, error)
}

type CommandBuffer interface {
	Reset() error
	Begin() error
	End() error
	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, area Rect)
	EndRenderPass()
	SetViewport(area Rect)
	SetScissor(area Rect)
	Dispatch(groupsX, groupsY, groupsZ uint32)
	Free()
}

type PipelineStage uint8

const (
	StageColorAttachmentOutput PipelineStage = iota
	StageComputeShader
	StageAllCommands
)

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	// Wait is nil when the submission has nothing to wait on.
	Wait      Semaphore
	WaitStage PipelineStage
	Signal    Semaphore
	Fence     Fence
}

type Queue interface {
	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Device is the resource and queue provider the phases are built on.
type Device interface {
	NewCommandBuffer() (CommandBuffer, error)
	NewSemaphore() (Semaphore, error)
	NewFence(signaled bool) (Fence, error)
	WaitForFences(fences []Fence, timeoutNS uint64) error
	ResetFences(fences []Fence) error
	GraphicsQueue() Queue
	ComputeQueue() Queue
	WaitIdle() error
}

// TargetSource describes a set of images a render phase draws into: the
// swapchain for on-screen phases, or a capture target for baking phases.
type TargetSource interface {
	Extent() Extent
	ImageCount() int
	ColorAttachment(index int) Attachment
	// DepthView may be nil when the target has no depth attachment.
	DepthView() ImageView
}

// ResizableTarget is an offscreen target that follows the swapchain size, e.g.
// the scene color a post-processing pass reads back.
type ResizableTarget interface {
	TargetSource
	// Resize recreates the images to match swapchain. The device is idle.
	Resize(swapchain TargetSource) error
}

// CaptureTarget is a fixed set of offscreen images, e.g. the faces of one
// probe cubemap. It is not affected by swapchain resizes.
type CaptureTarget struct {
	Size   Extent
	Colors []Attachment
	Depth  ImageView
}

func (ct *CaptureTarget) Extent() Extent                   { return ct.Size }
func (ct *CaptureTarget) ImageCount() int                  { return len(ct.Colors) }
func (ct *CaptureTarget) ColorAttachment(i int) Attachment { return ct.Colors[i] }
func (ct *CaptureTarget) DepthView() ImageView             { return ct.Depth }
