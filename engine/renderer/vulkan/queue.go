package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// VulkanQueue implements graph.Queue. Submissions to one family are
// serialized through the lock pool.
type VulkanQueue struct {
	Name   string
	Handle vk.Queue
	Family uint32

	locks *VulkanLockPool
}

func waitStageFlags(stage graph.PipelineStage) vk.PipelineStageFlags {
	switch stage {
	case graph.StageComputeShader:
		return vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case graph.StageAllCommands:
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	default:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
}

func (q *VulkanQueue) Submit(info graph.SubmitInfo) error {
	cmd, ok := info.CommandBuffer.(*VulkanCommandBuffer)
	if !ok || cmd.Handle == nil {
		return fmt.Errorf("%s queue: submit without a recorded command buffer: %w", q.Name, core.ErrInvalidConfig)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd.Handle},
	}
	if wait, ok := info.Wait.(*VulkanSemaphore); ok && wait.Handle != vk.NullSemaphore {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{wait.Handle}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{waitStageFlags(info.WaitStage)}
	}
	if signal, ok := info.Signal.(*VulkanSemaphore); ok && signal.Handle != vk.NullSemaphore {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{signal.Handle}
	}

	fence := vk.NullFence
	vf, hasFence := info.Fence.(*VulkanFence)
	if hasFence {
		fence = vf.Handle
	}

	err := q.locks.SafeQueueCall(q.Family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
	if err != nil {
		core.LogError("%s queue: %s", q.Name, err)
		return err
	}
	cmd.UpdateSubmitted()
	return nil
}

func (q *VulkanQueue) WaitIdle() error {
	return q.locks.SafeQueueCall(q.Family, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(q.Handle))
	})
}
