package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/engine/renderer/graph"
)

// VulkanComputePipeline holds a compute pipeline and its layout.
type VulkanComputePipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout

	context *VulkanContext
	sets    []vk.DescriptorSet
}

func NewComputePipeline(context *VulkanContext, shader *VulkanShaderStage, setLayouts []vk.DescriptorSetLayout) (*VulkanComputePipeline, error) {
	if shader == nil {
		return nil, fmt.Errorf("compute pipeline without a shader: %w", core.ErrInvalidConfig)
	}
	outPipeline := &VulkanComputePipeline{context: context}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	if err := context.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &layout); res != vk.Success {
			return resultError("vkCreatePipelineLayout", res)
		}
		outPipeline.PipelineLayout = layout
		return nil
	}); err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              shader.ShaderStageCreateInfo,
		Layout:             outPipeline.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateComputePipelines", vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy()
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Compute pipeline created!")
	return outPipeline, nil
}

// UseDescriptorSets sets what Bind binds along with the pipeline.
func (pipeline *VulkanComputePipeline) UseDescriptorSets(sets ...vk.DescriptorSet) {
	pipeline.sets = sets
}

func (pipeline *VulkanComputePipeline) Destroy() {
	_ = pipeline.context.locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(pipeline.context.Device.LogicalDevice, pipeline.Handle, pipeline.context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(pipeline.context.Device.LogicalDevice, pipeline.PipelineLayout, pipeline.context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}

// Bind binds the pipeline and its descriptor sets on cmd.
func (pipeline *VulkanComputePipeline) Bind(cmd graph.CommandBuffer) error {
	vcb, ok := cmd.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("bind compute pipeline on %T: %w", cmd, core.ErrInvalidConfig)
	}
	vk.CmdBindPipeline(vcb.Handle, vk.PipelineBindPointCompute, pipeline.Handle)
	if len(pipeline.sets) > 0 {
		vk.CmdBindDescriptorSets(vcb.Handle, vk.PipelineBindPointCompute, pipeline.PipelineLayout, 0, uint32(len(pipeline.sets)), pipeline.sets, 0, nil)
	}
	return nil
}
