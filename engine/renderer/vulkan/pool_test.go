package vulkan

import (
	"errors"
	"sync"
	"testing"
)

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	var wg sync.WaitGroup
	inside, maxInside := 0, 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.SafeCall(PipelineManagement, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("%d callers inside one lock group at once", maxInside)
	}
}

func TestLockPoolPropagatesError(t *testing.T) {
	pool := NewVulkanLockPool()
	boom := errors.New("boom")
	if err := pool.SafeQueueCall(0, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("SafeQueueCall err = %v", err)
	}
	// queue and group locks are independent
	err := pool.SafeQueueCall(0, func() error {
		return pool.SafeCall(CommandBufferManagement, func() error { return nil })
	})
	if err != nil {
		t.Error(err)
	}
}
