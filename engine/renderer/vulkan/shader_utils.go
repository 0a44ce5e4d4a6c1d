package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
)

const spirvMagic uint32 = 0x07230203

// VulkanShaderStage is a single compiled shader module and the stage info a
// pipeline is created from.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo

	context *VulkanContext
}

// ParseSPIRV validates a SPIR-V binary and returns it as words.
func ParseSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 20 || len(data)%4 != 0 {
		return nil, fmt.Errorf("spir-v binary of %d bytes is truncated: %w", len(data), core.ErrInvalidConfig)
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if binary.LittleEndian.Uint32(data) != spirvMagic {
		if binary.BigEndian.Uint32(data) != spirvMagic {
			return nil, fmt.Errorf("spir-v magic number missing: %w", core.ErrInvalidConfig)
		}
		order = binary.BigEndian
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return words, nil
}

// NewShaderModule loads the SPIR-V file at path and wraps it in a stage for
// the given shader stage flag. The entry point is always "main".
func NewShaderModule(context *VulkanContext, path string, shaderStageFlag vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read shader module %s: %w", path, err)
	}
	code, err := ParseSPIRV(data)
	if err != nil {
		return nil, fmt.Errorf("shader module %s: %w", path, err)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}

	stage := &VulkanShaderStage{context: context}
	err = context.locks.SafeCall(ShaderManagement, func() error {
		var handle vk.ShaderModule
		if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
			return resultError("vkCreateShaderModule", res)
		}
		stage.Handle = handle
		return nil
	})
	if err != nil {
		core.LogError("shader module %s: %s", path, err)
		return nil, err
	}

	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageFlag,
		Module: stage.Handle,
		PName:  VulkanSafeString("main"),
	}
	core.LogDebug("Shader module %s loaded (%d words).", path, len(code))
	return stage, nil
}

func (s *VulkanShaderStage) Destroy() {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
