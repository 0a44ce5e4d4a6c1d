package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
)

// maxStorageSets bounds the sets of one storage image set. Post-processing
// uses one set per swapchain image.
const maxStorageSets = 8

// VulkanStorageImageSet holds descriptor sets that expose one storage image
// each to a compute shader at binding 0. All of them share one layout, so any
// of them can be bound with the same pipeline.
type VulkanStorageImageSet struct {
	Layout vk.DescriptorSetLayout
	Pool   vk.DescriptorPool
	Sets   []vk.DescriptorSet

	context *VulkanContext
}

func NewStorageImageSet(context *VulkanContext) (*VulkanStorageImageSet, error) {
	out := &VulkanStorageImageSet{context: context}

	binding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{binding},
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxStorageSets,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeStorageImage,
			DescriptorCount: maxStorageSets,
		}},
	}

	err := context.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.DescriptorSetLayout
		if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &layout); res != vk.Success {
			return resultError("vkCreateDescriptorSetLayout", res)
		}
		out.Layout = layout

		var pool vk.DescriptorPool
		if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &pool); res != vk.Success {
			return resultError("vkCreateDescriptorPool", res)
		}
		out.Pool = pool
		return nil
	})
	if err != nil {
		out.Destroy()
		return nil, err
	}
	return out, nil
}

// Grow allocates sets until there are at least n of them.
func (s *VulkanStorageImageSet) Grow(n int) error {
	if n > maxStorageSets {
		return fmt.Errorf("%d storage image sets requested, at most %d: %w", n, maxStorageSets, core.ErrInvalidConfig)
	}
	return s.context.locks.SafeCall(PipelineManagement, func() error {
		for len(s.Sets) < n {
			allocInfo := vk.DescriptorSetAllocateInfo{
				SType:              vk.StructureTypeDescriptorSetAllocateInfo,
				DescriptorPool:     s.Pool,
				DescriptorSetCount: 1,
				PSetLayouts:        []vk.DescriptorSetLayout{s.Layout},
			}
			var set vk.DescriptorSet
			if res := vk.AllocateDescriptorSets(s.context.Device.LogicalDevice, &allocInfo, &set); res != vk.Success {
				return resultError("vkAllocateDescriptorSets", res)
			}
			s.Sets = append(s.Sets, set)
		}
		return nil
	})
}

// UpdateImage points binding 0 of the index-th set at view. The set must not
// be in use by a pending command buffer, and the image must be in the general
// layout while the shader runs.
func (s *VulkanStorageImageSet) UpdateImage(index int, view vk.ImageView) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.Sets[index],
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   view,
			ImageLayout: vk.ImageLayoutGeneral,
		}},
	}
	vk.UpdateDescriptorSets(s.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (s *VulkanStorageImageSet) Destroy() {
	device := s.context.Device.LogicalDevice
	if s.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, s.Pool, s.context.Allocator)
		s.Pool = vk.NullDescriptorPool
	}
	if s.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, s.Layout, s.context.Allocator)
		s.Layout = vk.NullDescriptorSetLayout
	}
	s.Sets = nil
}
