// Package graphtest provides in-memory implementations of the graph backend
// contracts. They record every call so tests can assert on submission order
// and resource lifetimes without a GPU.
package graphtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

var ErrInjected = errors.New("injected failure")

type Semaphore struct {
	ID        int
	Destroyed bool
}

func (s *Semaphore) Destroy() { s.Destroyed = true }

func (s *Semaphore) String() string { return fmt.Sprintf("semaphore#%d", s.ID) }

type Fence struct {
	ID        int
	Signaled  bool
	Destroyed bool
	Waits     int
	Resets    int

	// WaitErr is returned by every Wait when set.
	WaitErr error
}

func (f *Fence) Wait(uint64) error {
	f.Waits++
	return f.WaitErr
}

func (f *Fence) Reset() error {
	f.Resets++
	f.Signaled = false
	return nil
}

func (f *Fence) Destroy() { f.Destroyed = true }

type RenderPassCall struct {
	Framebuffer graph.Framebuffer
	Area        graph.Rect
}

type CommandBuffer struct {
	ID           int
	Resets       int
	Begins       int
	Ends         int
	Freed        bool
	RenderPasses []RenderPassCall
	Viewports    []graph.Rect
	Scissors     []graph.Rect
	Dispatches   [][3]uint32

	// BeginErr and EndErr are returned by Begin and End when set.
	BeginErr error
	EndErr   error
}

func (c *CommandBuffer) Reset() error {
	c.Resets++
	c.RenderPasses = nil
	c.Viewports = nil
	c.Scissors = nil
	c.Dispatches = nil
	return nil
}

func (c *CommandBuffer) Begin() error {
	c.Begins++
	return c.BeginErr
}

func (c *CommandBuffer) End() error {
	c.Ends++
	return c.EndErr
}

func (c *CommandBuffer) BeginRenderPass(_ graph.RenderPass, fb graph.Framebuffer, area graph.Rect) {
	c.RenderPasses = append(c.RenderPasses, RenderPassCall{Framebuffer: fb, Area: area})
}

func (c *CommandBuffer) EndRenderPass() {}

func (c *CommandBuffer) SetViewport(area graph.Rect) { c.Viewports = append(c.Viewports, area) }
func (c *CommandBuffer) SetScissor(area graph.Rect)  { c.Scissors = append(c.Scissors, area) }

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.Dispatches = append(c.Dispatches, [3]uint32{x, y, z})
}

func (c *CommandBuffer) Free() { c.Freed = true }

type Framebuffer struct {
	Size        graph.Extent
	Attachments []graph.ImageView
	Destroyed   bool
}

func (f *Framebuffer) Extent() graph.Extent { return f.Size }
func (f *Framebuffer) Destroy()             { f.Destroyed = true }

type RenderPass struct {
	Created []*Framebuffer

	// FailAt makes the FailAt-th framebuffer creation (1-based) fail. Zero never fails.
	FailAt int
}

func (rp *RenderPass) NewFramebuffer(attachments []graph.ImageView, extent graph.Extent) (graph.Framebuffer, error) {
	if rp.FailAt > 0 && len(rp.Created)+1 == rp.FailAt {
		rp.FailAt = 0
		return nil, ErrInjected
	}
	fb := &Framebuffer{Size: extent, Attachments: append([]graph.ImageView(nil), attachments...)}
	rp.Created = append(rp.Created, fb)
	return fb, nil
}

// Live returns the framebuffers that were created and not destroyed yet.
func (rp *RenderPass) Live() []*Framebuffer {
	var live []*Framebuffer
	for _, fb := range rp.Created {
		if !fb.Destroyed {
			live = append(live, fb)
		}
	}
	return live
}

type Queue struct {
	Name    string
	device  *Device
	Submits []graph.SubmitInfo
	Idles   int

	// FailNext makes the next FailNext submissions fail.
	FailNext int
}

func (q *Queue) Submit(info graph.SubmitInfo) error {
	if q.FailNext > 0 {
		q.FailNext--
		return ErrInjected
	}
	q.Submits = append(q.Submits, info)
	q.device.mu.Lock()
	q.device.Submissions = append(q.device.Submissions, Submission{Queue: q.Name, SubmitInfo: info})
	q.device.mu.Unlock()
	if f, ok := info.Fence.(*Fence); ok {
		f.Signaled = true
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	q.Idles++
	return nil
}

// Submission is a SubmitInfo tagged with the queue that received it.
type Submission struct {
	Queue string
	graph.SubmitInfo
}

type Device struct {
	mu sync.Mutex

	Graphics *Queue
	Compute  *Queue

	Semaphores     []*Semaphore
	Fences         []*Fence
	CommandBuffers []*CommandBuffer

	// Submissions is every successful submit on any queue, in order.
	Submissions []Submission

	FenceWaits  [][]graph.Fence
	FenceResets [][]graph.Fence
	Idles       int

	// FailSemaphoreAt makes the n-th semaphore creation (1-based) fail.
	FailSemaphoreAt int

	// WaitForFencesErr is returned by WaitForFences when set.
	WaitForFencesErr error
}

func NewDevice() *Device {
	d := &Device{}
	d.Graphics = &Queue{Name: "graphics", device: d}
	d.Compute = &Queue{Name: "compute", device: d}
	return d
}

func (d *Device) NewCommandBuffer() (graph.CommandBuffer, error) {
	cb := &CommandBuffer{ID: len(d.CommandBuffers) + 1}
	d.CommandBuffers = append(d.CommandBuffers, cb)
	return cb, nil
}

func (d *Device) NewSemaphore() (graph.Semaphore, error) {
	if d.FailSemaphoreAt > 0 && len(d.Semaphores)+1 == d.FailSemaphoreAt {
		d.FailSemaphoreAt = 0
		return nil, ErrInjected
	}
	s := &Semaphore{ID: len(d.Semaphores) + 1}
	d.Semaphores = append(d.Semaphores, s)
	return s, nil
}

func (d *Device) NewFence(signaled bool) (graph.Fence, error) {
	f := &Fence{ID: len(d.Fences) + 1, Signaled: signaled}
	d.Fences = append(d.Fences, f)
	return f, nil
}

func (d *Device) WaitForFences(fences []graph.Fence, _ uint64) error {
	d.FenceWaits = append(d.FenceWaits, append([]graph.Fence(nil), fences...))
	return d.WaitForFencesErr
}

func (d *Device) ResetFences(fences []graph.Fence) error {
	d.FenceResets = append(d.FenceResets, append([]graph.Fence(nil), fences...))
	for _, f := range fences {
		if err := f.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) GraphicsQueue() graph.Queue { return d.Graphics }
func (d *Device) ComputeQueue() graph.Queue  { return d.Compute }

func (d *Device) WaitIdle() error {
	d.Idles++
	return nil
}

// Target builds a capture target of n images tagged with name, e.g.
// "probe0/img2", so tests can tell outputs apart.
func Target(name string, width, height uint32, n int) *graph.CaptureTarget {
	t := &graph.CaptureTarget{
		Size:  graph.Extent{Width: width, Height: height},
		Depth: name + "/depth",
	}
	for i := 0; i < n; i++ {
		t.Colors = append(t.Colors, graph.Attachment{
			Image: fmt.Sprintf("%s/img%d", name, i),
			View:  fmt.Sprintf("%s/view%d", name, i),
		})
	}
	return t
}

// ResizableTarget is an offscreen target that takes the size and the image
// count of whatever it is resized to. Every resize renames its images, e.g.
// "scene@1/img0", so tests can tell generations apart.
type ResizableTarget struct {
	*graph.CaptureTarget
	Name    string
	Resizes int

	// ResizeErr is returned by Resize when set.
	ResizeErr error
}

func NewResizableTarget(name string, width, height uint32, n int) *ResizableTarget {
	return &ResizableTarget{CaptureTarget: Target(name, width, height, n), Name: name}
}

func (t *ResizableTarget) Resize(swapchain graph.TargetSource) error {
	if t.ResizeErr != nil {
		return t.ResizeErr
	}
	t.Resizes++
	size := swapchain.Extent()
	t.CaptureTarget = Target(fmt.Sprintf("%s@%d", t.Name, t.Resizes), size.Width, size.Height, swapchain.ImageCount())
	return nil
}

// State is a RenderState and ComputeState that remembers every frame it saw.
type State struct {
	Frames []graph.FrameContext

	// DrawErr is returned by RecordDraw and RecordDispatch when set.
	DrawErr error

	// Groups are dispatched by RecordDispatch when non-zero.
	Groups [3]uint32
}

func (s *State) UpdateUniforms(*graph.FrameContext) error    { return nil }
func (s *State) UpdateDescriptors(*graph.FrameContext) error { return nil }

func (s *State) RecordDraw(_ graph.CommandBuffer, frame *graph.FrameContext) error {
	s.Frames = append(s.Frames, *frame)
	return s.DrawErr
}

func (s *State) RecordDispatch(cmd graph.CommandBuffer, frame *graph.FrameContext) error {
	s.Frames = append(s.Frames, *frame)
	if s.Groups != [3]uint32{} {
		cmd.Dispatch(s.Groups[0], s.Groups[1], s.Groups[2])
	}
	return s.DrawErr
}
