package vulkan

import (
	"errors"
	stdmath "math"
	"testing"

	vk "github.com/goki/vulkan"
)

// An unsignalled fence with no handle never reaches the driver in Submit
// or FenceWait, which keeps these tests off the GPU.

func TestFenceSubmitStampsEpoch(t *testing.T) {
	fence := &VulkanFence{Epoch: 3}
	called := false
	err := fence.Submit(nil, 7, func(handle vk.Fence) error {
		called = handle == fence.Handle
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("submit was not handed the fence handle")
	}
	if fence.Epoch != 7 || fence.IsSignaled {
		t.Errorf("fence = %+v, want epoch 7 pending", fence)
	}
}

func TestFenceFailedSubmitDoesNotBlockNextWait(t *testing.T) {
	fence := &VulkanFence{Epoch: 3}
	submitErr := errors.New("device lost")
	if err := fence.Submit(nil, 7, func(vk.Fence) error { return submitErr }); !errors.Is(err, submitErr) {
		t.Fatalf("Submit() = %v, want %v", err, submitErr)
	}
	if fence.Epoch != 3 {
		t.Errorf("epoch = %d, want the previous 3", fence.Epoch)
	}
	if !fence.IsSignaled {
		t.Fatal("failed submit left the fence pending")
	}
	// returns without calling vkWaitForFences
	if err := fence.FenceWait(nil, stdmath.MaxUint64); err != nil {
		t.Errorf("FenceWait() = %v", err)
	}
}
