package pipeline

import "github.com/spaghettifunk/anima-gfx/engine/containers"

type retired struct {
	instance *Instance
	lastUsed uint64
}

// retireList holds superseded instances in retirement order. Entries are
// not sorted by epoch, so draining scans the whole queue.
type retireList struct {
	queue *containers.RingQueue[retired]
}

func newRetireList() *retireList {
	return &retireList{
		queue: containers.NewGrowableRingQueue[retired](8),
	}
}

func (r *retireList) push(inst *Instance, lastUsed uint64) {
	// growable queues never report full
	_ = r.queue.Enqueue(retired{instance: inst, lastUsed: lastUsed})
}

// drain removes and returns the instances last used at or before completed.
func (r *retireList) drain(completed uint64) []*Instance {
	var out []*Instance
	for n := r.queue.Len(); n > 0; n-- {
		entry, err := r.queue.Dequeue()
		if err != nil {
			break
		}
		if entry.lastUsed <= completed {
			out = append(out, entry.instance)
			continue
		}
		_ = r.queue.Enqueue(entry)
	}
	return out
}

func (r *retireList) drainAll() []*Instance {
	out := make([]*Instance, 0, r.queue.Len())
	for !r.queue.IsEmpty() {
		entry, _ := r.queue.Dequeue()
		out = append(out, entry.instance)
	}
	return out
}

func (r *retireList) len() int {
	return r.queue.Len()
}
