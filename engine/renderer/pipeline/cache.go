package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/target"
)

var (
	ErrCacheClosed = errors.New("pipeline cache is shut down")
	ErrZeroExtent  = errors.New("render target has zero extent")
)

// Stats is a point in time copy of the cache counters.
type Stats struct {
	Builds    uint64
	Hits      uint64
	Failures  uint64
	Retired   uint64
	Destroyed uint64
	Live      int
	Retiring  int
}

type targetState struct {
	ctx    context.Context
	cancel context.CancelFunc
	torn   bool
}

// Cache maps (descriptor, render target) to the pipeline instance built for
// the target's current generation.
//
// Instances returned by GetOrBuild are stamped with the current epoch and
// stay alive until RetireEpoch reports that epoch complete, even if they
// are superseded in the meantime. Callers must acquire an instance every
// frame instead of holding it across epochs.
type Cache struct {
	device Device
	events *core.EventSystem

	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	mu       sync.Mutex
	entries  map[Key]*Instance
	versions map[Key]uint64
	failures map[Key]int
	targets  map[uuid.UUID]*targetState
	retire   *retireList
	epoch    uint64
	closed   bool

	// builds running per descriptor, and how often each was evicted
	building  map[metadata.DescriptorKey]int
	evictions map[metadata.DescriptorKey]uint64
	inflight  sync.WaitGroup

	builds    atomic.Uint64
	hits      atomic.Uint64
	failed    atomic.Uint64
	retired   atomic.Uint64
	destroyed atomic.Uint64
}

type Option func(*Cache)

// WithEventSystem makes the cache fire EVENT_CODE_PIPELINE_REBUILT and
// EVENT_CODE_PIPELINE_BUILD_FAILED on es.
func WithEventSystem(es *core.EventSystem) Option {
	return func(c *Cache) {
		c.events = es
	}
}

func NewCache(device Device, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		device:   device,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[Key]*Instance),
		versions: make(map[Key]uint64),
		failures: make(map[Key]int),
		targets:  make(map[uuid.UUID]*targetState),
		retire:   newRetireList(),

		building:  make(map[metadata.DescriptorKey]int),
		evictions: make(map[metadata.DescriptorKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrBuild returns the instance of descriptor for the current generation
// of t, building it if it is missing or stale. Concurrent calls for the
// same key share one build; calls for distinct keys build in parallel.
//
// Cancelling ctx only stops the wait. The build itself runs until it
// completes or t is torn down, and its result is cached for the next call.
func (c *Cache) GetOrBuild(ctx context.Context, descriptor *metadata.PipelineDescriptor, t target.RenderTarget) (*Instance, error) {
	if descriptor == nil || t == nil {
		return nil, fmt.Errorf("%w: nil descriptor or render target", core.ErrValidation)
	}
	key := Key{Descriptor: descriptor.Key(), Target: t.ID()}

	built := false
	for {
		inst, err := c.acquire(key, descriptor.Name(), t, !built)
		if err != nil || inst != nil {
			return inst, err
		}

		ch := c.group.DoChan(key.String(), func() (interface{}, error) {
			return c.build(key, descriptor, t)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		}
		// the generation may have moved again while building; acquire
		// decides and loops into another build if so
		built = true
	}
}

func (c *Cache) acquire(key Key, name string, t target.RenderTarget, countHit bool) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}
	if c.tornLocked(key.Target, t) {
		return nil, teardownError(name, key)
	}
	inst := c.entries[key]
	if inst == nil || inst.generation != t.CurrentGeneration() {
		return nil, nil
	}
	if inst.lastUsed < c.epoch {
		inst.lastUsed = c.epoch
	}
	if countHit {
		c.hits.Add(1)
	}
	return inst, nil
}

func (c *Cache) build(key Key, descriptor *metadata.PipelineDescriptor, t target.RenderTarget) (*Instance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	// a build for this key may have finished between our lookup and the join
	if inst := c.entries[key]; inst != nil && inst.generation == t.CurrentGeneration() {
		c.mu.Unlock()
		return inst, nil
	}
	if c.tornLocked(key.Target, t) {
		c.mu.Unlock()
		return nil, teardownError(descriptor.Name(), key)
	}
	ts := c.targetStateLocked(key.Target, t)
	evictions := c.evictions[key.Descriptor]
	c.building[key.Descriptor]++
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.buildDone(key.Descriptor)

	config, generation := t.Snapshot()
	c.builds.Add(1)
	core.LogDebug("building pipeline %q for target %s generation %d (%s)", descriptor.Name(), t.Name(), generation, config)

	var handle Handle
	var err error
	if config.Extent.IsZero() {
		err = ErrZeroExtent
	} else {
		handle, err = c.device.CreatePipeline(ts.ctx, descriptor, config)
	}
	if err != nil {
		return nil, c.buildFailed(key, descriptor, generation, ts, err)
	}

	c.mu.Lock()
	if c.closed || ts.torn {
		closed := c.closed
		c.mu.Unlock()
		c.device.DestroyPipeline(handle)
		c.destroyed.Add(1)
		if closed {
			return nil, ErrCacheClosed
		}
		return nil, teardownError(descriptor.Name(), key)
	}
	c.versions[key]++
	inst := &Instance{
		handle:     handle,
		generation: generation,
		version:    c.versions[key],
		descriptor: descriptor,
		config:     config,
		key:        key,
		targetDone: t.Done(),
		lastUsed:   c.epoch,
	}
	delete(c.failures, key)
	if c.evictions[key.Descriptor] != evictions {
		// evicted while building, so the result is already stale
		c.retireLocked(inst)
	} else {
		old := c.entries[key]
		c.entries[key] = inst
		if old != nil {
			c.retireLocked(old)
		}
	}
	c.mu.Unlock()

	core.LogInfo("pipeline %q v%d ready for target %s generation %d", descriptor.Name(), inst.version, t.Name(), generation)
	c.fire(core.EVENT_CODE_PIPELINE_REBUILT, BuildEvent{
		Name:       descriptor.Name(),
		Key:        key,
		Generation: generation,
		Version:    inst.version,
	})
	return inst, nil
}

func (c *Cache) buildDone(dk metadata.DescriptorKey) {
	c.mu.Lock()
	if c.building[dk]--; c.building[dk] <= 0 {
		delete(c.building, dk)
	}
	c.mu.Unlock()
	c.inflight.Done()
}

// Building reports whether a build of descriptor is still running on any
// target. Such a build may outlive the request that started it.
func (c *Cache) Building(descriptor *metadata.PipelineDescriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.building[descriptor.Key()] > 0
}

func (c *Cache) buildFailed(key Key, descriptor *metadata.PipelineDescriptor, generation uint64, ts *targetState, cause error) error {
	c.mu.Lock()
	if ts.torn {
		c.mu.Unlock()
		return teardownError(descriptor.Name(), key)
	}
	// a stale instance is never handed out again, so it retires now
	if old := c.entries[key]; old != nil {
		delete(c.entries, key)
		c.retireLocked(old)
	}
	c.failures[key]++
	attempt := c.failures[key]
	c.mu.Unlock()

	c.failed.Add(1)
	err := &BuildError{
		Key:        key,
		Name:       descriptor.Name(),
		Generation: generation,
		Attempt:    attempt,
		Err:        cause,
	}
	core.LogError("%s", err)
	c.fire(core.EVENT_CODE_PIPELINE_BUILD_FAILED, BuildEvent{
		Name:       descriptor.Name(),
		Key:        key,
		Generation: generation,
		Err:        err,
	})
	return err
}

// tornLocked reports whether the target is gone, tearing down its entries
// the first time its Done channel is seen closed.
func (c *Cache) tornLocked(id uuid.UUID, t target.RenderTarget) bool {
	if ts, ok := c.targets[id]; ok && ts.torn {
		return true
	}
	select {
	case <-t.Done():
		c.teardownLocked(id)
		return true
	default:
		return false
	}
}

func (c *Cache) targetStateLocked(id uuid.UUID, t target.RenderTarget) *targetState {
	if ts, ok := c.targets[id]; ok {
		return ts
	}
	ctx, cancel := context.WithCancel(c.ctx)
	ts := &targetState{ctx: ctx, cancel: cancel}
	c.targets[id] = ts

	go func() {
		select {
		case <-t.Done():
			c.TeardownTarget(id)
		case <-ctx.Done():
		}
	}()
	return ts
}

func (c *Cache) retireLocked(inst *Instance) {
	c.retire.push(inst, inst.lastUsed)
	c.retired.Add(1)
}

// TeardownTarget cancels pending builds for the target and retires its
// instances. Later requests for the target fail with core.ErrTeardownRace.
// It returns the number of instances retired.
func (c *Cache) TeardownTarget(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked(id)
}

func (c *Cache) teardownLocked(id uuid.UUID) int {
	ts, ok := c.targets[id]
	if !ok {
		ctx, cancel := context.WithCancel(c.ctx)
		ts = &targetState{ctx: ctx, cancel: cancel}
		c.targets[id] = ts
	} else if ts.torn {
		return 0
	}
	ts.torn = true
	ts.cancel()

	n := 0
	for key, inst := range c.entries {
		if key.Target != id {
			continue
		}
		delete(c.entries, key)
		delete(c.failures, key)
		c.retireLocked(inst)
		n++
	}
	core.LogDebug("render target %s torn down, %d pipeline instances retired", id, n)
	return n
}

// Evict retires every instance of the descriptor on every target, so the
// next request rebuilds it. Used when its shaders are reloaded.
func (c *Cache) Evict(descriptor *metadata.PipelineDescriptor) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictions[descriptor.Key()]++
	n := 0
	for key, inst := range c.entries {
		if key.Descriptor != descriptor.Key() {
			continue
		}
		delete(c.entries, key)
		delete(c.failures, key)
		c.retireLocked(inst)
		n++
	}
	return n
}

// AdvanceEpoch starts a new frame epoch and returns it. Instances acquired
// from now on are stamped with it.
func (c *Cache) AdvanceEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// RetireEpoch destroys retired instances whose last use was at or before
// completed, which the caller guarantees has finished on the GPU. It
// returns the number of instances destroyed.
func (c *Cache) RetireEpoch(completed uint64) int {
	c.mu.Lock()
	ready := c.retire.drain(completed)
	c.mu.Unlock()

	for _, inst := range ready {
		c.destroy(inst)
	}
	if len(ready) > 0 {
		core.LogDebug("destroyed %d retired pipeline instances through epoch %d", len(ready), completed)
	}
	return len(ready)
}

func (c *Cache) destroy(inst *Instance) {
	if inst.destroyed.CompareAndSwap(false, true) {
		c.device.DestroyPipeline(inst.handle)
		c.destroyed.Add(1)
	}
}

// Shutdown cancels pending builds, waits for running ones to return and
// destroys every live and retired instance. The caller must have waited
// for the device to go idle.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.inflight.Wait()

	c.mu.Lock()
	all := c.retire.drainAll()
	for key, inst := range c.entries {
		all = append(all, inst)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	for _, inst := range all {
		c.destroy(inst)
	}
	core.LogInfo("pipeline cache shut down, %d instances destroyed", len(all))
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	live, retiring := len(c.entries), c.retire.len()
	c.mu.Unlock()
	return Stats{
		Builds:    c.builds.Load(),
		Hits:      c.hits.Load(),
		Failures:  c.failed.Load(),
		Retired:   c.retired.Load(),
		Destroyed: c.destroyed.Load(),
		Live:      live,
		Retiring:  retiring,
	}
}

func (c *Cache) fire(code core.SystemEventCode, ev BuildEvent) {
	if c.events == nil {
		return
	}
	c.events.Fire(core.EventContext{Code: code, Sender: c, Data: ev})
}
