package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultErrorMapsSentinels(t *testing.T) {
	require.NoError(t, resultError("vkQueueSubmit", vk.Success))
	require.NoError(t, resultError("vkAcquireNextImageKHR", vk.Suboptimal))

	assert.ErrorIs(t, resultError("vkAcquireNextImageKHR", vk.ErrorOutOfDate), core.ErrSwapchainOutOfDate)
	assert.ErrorIs(t, resultError("vkWaitForFences", vk.Timeout), core.ErrFenceTimeout)
	assert.ErrorIs(t, resultError("vkQueueSubmit", vk.ErrorDeviceLost), core.ErrDeviceLost)
	assert.ErrorIs(t, resultError("vkCreateFence", vk.ErrorOutOfHostMemory), core.ErrUnknown)
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(vk.ErrorOutOfDate, false))
	assert.Contains(t, VulkanResultString(vk.ErrorDeviceLost, true), "device has been lost")
	assert.Equal(t, "VkResult(-424242)", VulkanResultString(vk.Result(-424242), false))
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "already\x00", ""}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_surface\x00", "already\x00", "\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0], "input is left untouched")
}

func TestFindFirstZeroInByteArray(t *testing.T) {
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{'a', 'b', 'c', 0, 'd'}))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b'}))
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	calls := 0
	require.NoError(t, pool.SafeCall(PipelineManagement, func() error {
		calls++
		// a queue call from inside a group call must not deadlock
		return pool.SafeQueueCall(0, func() error {
			calls++
			return nil
		})
	}))
	assert.Equal(t, 2, calls)

	err := pool.SafeQueueCall(7, func() error { return core.ErrDeviceLost })
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}
