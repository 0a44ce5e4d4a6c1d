package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer implements graph.CommandBuffer on top of a buffer
// allocated from the device's graphics pool.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	context *VulkanContext
	pool    vk.CommandPool
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
		pool:    pool,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles))
	})
	if err != nil {
		core.LogError("failed to allocate command buffer: %s", err)
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free() {
	if v.Handle == nil {
		return
	}
	_ = v.context.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin() error {
	return v.BeginWithFlags(false, false, false)
}

func (v *VulkanCommandBuffer) BeginWithFlags(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		err := resultError("vkBeginCommandBuffer", res)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("end command buffer inside a render pass: %w", core.ErrInvalidConfig)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := resultError("vkEndCommandBuffer", res)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Reset discards the previous recording. The pool is created with the
// reset-command-buffer flag so buffers can be reset one by one.
func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(pass graph.RenderPass, framebuffer graph.Framebuffer, area graph.Rect) {
	rp, ok := pass.(*VulkanRenderpass)
	if !ok {
		core.LogError("begin render pass: %T is not a vulkan render pass", pass)
		return
	}
	fb, ok := framebuffer.(*VulkanFramebuffer)
	if !ok {
		core.LogError("begin render pass: %T is not a vulkan framebuffer", framebuffer)
		return
	}
	rp.RenderpassBegin(v, fb.Handle, area)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

// SetViewport flips Y so that clip space points up, as every shader assumes.
func (v *VulkanCommandBuffer) SetViewport(area graph.Rect) {
	viewport := vk.Viewport{
		X:        float32(area.X),
		Y:        float32(area.Y) + float32(area.Height),
		Width:    float32(area.Width),
		Height:   -float32(area.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{viewport})
}

func (v *VulkanCommandBuffer) SetScissor(area graph.Rect) {
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: area.X, Y: area.Y},
		Extent: vk.Extent2D{Width: area.Width, Height: area.Height},
	}
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) Dispatch(groupsX, groupsY, groupsZ uint32) {
	vk.CmdDispatch(v.Handle, groupsX, groupsY, groupsZ)
}

// AllocateAndBeginSingleUse allocates a primary buffer and begins recording
// it for a one-off submission.
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.BeginWithFlags(true, false, false); err != nil {
		cb.Free()
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits to queue, waits for it to drain and
// frees the buffer.
func (v *VulkanCommandBuffer) EndSingleUse(queue *VulkanQueue) error {
	defer v.Free()

	if err := v.End(); err != nil {
		return err
	}
	if err := queue.Submit(graph.SubmitInfo{CommandBuffer: v}); err != nil {
		return err
	}
	return queue.WaitIdle()
}
