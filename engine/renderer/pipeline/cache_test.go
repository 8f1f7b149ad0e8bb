package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/target"
)

type stubModule struct {
	handle metadata.ModuleHandle
}

func (m *stubModule) Handle() metadata.ModuleHandle { return m.handle }
func (m *stubModule) Loaded() bool { return true }
func (m *stubModule) HasEntryPoint(name string) bool { return name == "main" }
func (m *stubModule) Destroy() {}

type fakeHandle struct {
	id     int
	config metadata.TargetConfig
}

type fakeDevice struct {
	mu        sync.Mutex
	created   int
	destroyed []Handle
	fail      error
	gate      chan struct{}
	started   chan struct{}
}

func (d *fakeDevice) CreatePipeline(ctx context.Context, descriptor *metadata.PipelineDescriptor, config metadata.TargetConfig) (Handle, error) {
	d.mu.Lock()
	d.created++
	id := d.created
	gate, fail, started := d.gate, d.fail, d.started
	d.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return &fakeHandle{id: id, config: config}, nil
}

func (d *fakeDevice) DestroyPipeline(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = append(d.destroyed, h)
}

func (d *fakeDevice) createdCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

func (d *fakeDevice) destroyedHandles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Handle(nil), d.destroyed...)
}

func (d *fakeDevice) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func targetConfig(w, h uint32) metadata.TargetConfig {
	return metadata.TargetConfig{
		Format:     metadata.ImageFormatB8G8R8A8Srgb,
		Extent:     metadata.Extent2D{Width: w, Height: h},
		ImageCount: 3,
	}
}

func newWindow(t *testing.T, w, h uint32) *target.Window {
	t.Helper()
	win := target.NewWindow("test", targetConfig(w, h))
	t.Cleanup(win.Teardown)
	return win
}

func newDescriptor(t *testing.T, name string, cull metadata.FaceCullMode) *metadata.PipelineDescriptor {
	t.Helper()
	vs, err := metadata.NewShaderStage(metadata.ShaderStageVertex, &stubModule{handle: 1}, "main")
	if err != nil {
		t.Fatal(err)
	}
	fs, err := metadata.NewShaderStage(metadata.ShaderStageFragment, &stubModule{handle: 2}, "main")
	if err != nil {
		t.Fatal(err)
	}
	d, err := metadata.NewPipelineDescriptor(metadata.PipelineDescriptorConfig{
		Name:     name,
		Stages:   []*metadata.ShaderStage{vs, fs},
		Layout:   metadata.ProceduralVertexLayout(),
		CullMode: cull,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGetOrBuildReturnsSameInstance(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	first, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("unchanged target produced a different instance")
	}
	if dev.createdCount() != 1 {
		t.Errorf("created = %d, want 1", dev.createdCount())
	}
	if first.BuiltForGeneration() != win.CurrentGeneration() {
		t.Errorf("built for generation %d, target at %d", first.BuiltForGeneration(), win.CurrentGeneration())
	}
	if first.Target() != win.ID() {
		t.Errorf("target = %s, want %s", first.Target(), win.ID())
	}
	if got := cache.Stats(); got.Hits != 1 || got.Builds != 1 || got.Live != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestGenerationBumpRebuildsExactlyOnce(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	old, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	win.Reconfigure(targetConfig(1024, 768))

	var fresh *Instance
	for i := 0; i < 3; i++ {
		inst, err := cache.GetOrBuild(context.Background(), desc, win)
		if err != nil {
			t.Fatal(err)
		}
		if fresh != nil && inst != fresh {
			t.Fatal("rebuilt more than once for one generation bump")
		}
		fresh = inst
	}
	if dev.createdCount() != 2 {
		t.Errorf("created = %d, want 2", dev.createdCount())
	}
	if fresh.Version() != old.Version()+1 {
		t.Errorf("version = %d, want %d", fresh.Version(), old.Version()+1)
	}
	if fresh.Config().Extent != (metadata.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("instance built for %s", fresh.Config().Extent)
	}
}

func TestConcurrentFirstCallsBuildOnce(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	const callers = 16
	results := make([]*Instance, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = cache.GetOrBuild(context.Background(), desc, win)
		}(i)
	}
	close(start)
	<-dev.started
	close(dev.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
	if dev.createdCount() != 1 {
		t.Errorf("created = %d, want 1", dev.createdCount())
	}
}

func TestDistinctKeysBuildInParallel(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	a := newDescriptor(t, "a", metadata.FaceCullModeBack)
	b := newDescriptor(t, "b", metadata.FaceCullModeNone)

	var wg sync.WaitGroup
	for _, d := range []*metadata.PipelineDescriptor{a, b} {
		wg.Add(1)
		go func(d *metadata.PipelineDescriptor) {
			defer wg.Done()
			if _, err := cache.GetOrBuild(context.Background(), d, win); err != nil {
				t.Error(err)
			}
		}(d)
	}
	// both builds must be in flight at once before either is released
	for i := 0; i < 2; i++ {
		select {
		case <-dev.started:
		case <-time.After(5 * time.Second):
			t.Fatal("builds for distinct keys did not run in parallel")
		}
	}
	close(dev.gate)
	wg.Wait()
}

func TestResizeRetiresOldInstanceAfterItsEpoch(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	e1 := cache.AdvanceEpoch()
	i1, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}

	win.Reconfigure(targetConfig(1024, 768))
	cache.AdvanceEpoch()
	i2, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if i2 == i1 || i2.BuiltForGeneration() != 2 {
		t.Fatalf("expected a new instance for generation 2, got %s", i2)
	}

	if n := cache.RetireEpoch(e1 - 1); n != 0 {
		t.Fatalf("destroyed %d instances before epoch %d completed", n, e1)
	}
	if len(dev.destroyedHandles()) != 0 {
		t.Fatal("old instance destroyed while its frame may be in flight")
	}
	if err := i1.Check(); err != nil {
		t.Errorf("old instance unusable before retirement: %v", err)
	}

	if n := cache.RetireEpoch(e1); n != 1 {
		t.Fatalf("RetireEpoch(%d) destroyed %d, want 1", e1, n)
	}
	destroyed := dev.destroyedHandles()
	if len(destroyed) != 1 || destroyed[0] != i1.Handle() {
		t.Errorf("destroyed = %v, want the first instance", destroyed)
	}
	if err := i1.Check(); !errors.Is(err, core.ErrTeardownRace) {
		t.Errorf("Check() on destroyed instance = %v, want ErrTeardownRace", err)
	}
	if err := i2.Check(); err != nil {
		t.Errorf("current instance: %v", err)
	}
}

func TestRetireUsesLastAcquisitionEpoch(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	cache.AdvanceEpoch()
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	e2 := cache.AdvanceEpoch()
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	win.Reconfigure(targetConfig(640, 480))
	cache.AdvanceEpoch()
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}

	if n := cache.RetireEpoch(e2 - 1); n != 0 {
		t.Errorf("instance used in epoch %d destroyed after epoch %d", e2, e2-1)
	}
	if n := cache.RetireEpoch(e2); n != 1 {
		t.Errorf("RetireEpoch(%d) = %d, want 1", e2, n)
	}
}

func TestZeroExtentFailsAndRetries(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 0, 0)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	_, err := cache.GetOrBuild(context.Background(), desc, win)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if !errors.Is(err, core.ErrBuild) || !errors.Is(err, ErrZeroExtent) {
		t.Errorf("err = %v should match ErrBuild and ErrZeroExtent", err)
	}
	if cache.Stats().Live != 0 {
		t.Error("failed build left an entry behind")
	}

	_, err = cache.GetOrBuild(context.Background(), desc, win)
	if !errors.As(err, &buildErr) || buildErr.Attempt != 2 {
		t.Fatalf("second call err = %v, want attempt 2", err)
	}
	if got := cache.Stats().Builds; got != 2 {
		t.Errorf("builds = %d, want a fresh attempt per call", got)
	}

	win.Reconfigure(targetConfig(800, 600))
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatalf("build after restore: %v", err)
	}
}

func TestBuildFailureRetiresStaleInstance(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("device lost")
	dev.setFail(boom)
	win.Reconfigure(targetConfig(1024, 768))

	_, err := cache.GetOrBuild(context.Background(), desc, win)
	if !errors.Is(err, boom) || !errors.Is(err, core.ErrBuild) {
		t.Fatalf("err = %v, want device error wrapped in BuildError", err)
	}
	stats := cache.Stats()
	if stats.Live != 0 || stats.Retiring != 1 {
		t.Errorf("stats = %+v, want stale instance moved to the retire list", stats)
	}

	dev.setFail(nil)
	inst, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if inst.BuiltForGeneration() != 2 {
		t.Errorf("generation = %d, want 2", inst.BuiltForGeneration())
	}
}

func TestTeardownCancelsPendingBuild(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := target.NewWindow("doomed", targetConfig(800, 600))
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrBuild(context.Background(), desc, win)
		done <- err
	}()
	<-dev.started
	win.Teardown()

	select {
	case err := <-done:
		if !errors.Is(err, core.ErrTeardownRace) {
			t.Errorf("err = %v, want ErrTeardownRace", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending build not cancelled by teardown")
	}
	if _, err := cache.GetOrBuild(context.Background(), desc, win); !errors.Is(err, core.ErrTeardownRace) {
		t.Errorf("request after teardown = %v, want ErrTeardownRace", err)
	}
	if cache.Stats().Live != 0 {
		t.Error("torn down target still has cache entries")
	}
}

func TestTeardownTargetRetiresInstances(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	other := newWindow(t, 640, 480)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	inst, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrBuild(context.Background(), desc, other); err != nil {
		t.Fatal(err)
	}
	if n := cache.TeardownTarget(win.ID()); n != 1 {
		t.Fatalf("TeardownTarget retired %d, want 1", n)
	}
	if cache.Stats().Live != 1 {
		t.Error("teardown of one target touched another")
	}
	// retired, not destroyed: the epoch it was used in has not completed
	if len(dev.destroyedHandles()) != 0 {
		t.Error("instance destroyed at teardown")
	}
	win.Teardown()
	if err := inst.Check(); !errors.Is(err, core.ErrTeardownRace) {
		t.Errorf("Check() = %v, want ErrTeardownRace", err)
	}
}

func TestGetOrBuildHonoursContext(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrBuild(ctx, desc, win)
		done <- err
	}()
	<-dev.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// the build keeps running and its result is cached for the next caller
	close(dev.gate)
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	if dev.createdCount() != 1 {
		t.Errorf("created = %d, want 1", dev.createdCount())
	}
}

func TestEvictRebuilds(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	first, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if n := cache.Evict(desc); n != 1 {
		t.Fatalf("Evict() = %d, want 1", n)
	}
	second, err := cache.GetOrBuild(context.Background(), desc, win)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("evicted instance handed out again")
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	dev := &fakeDevice{}
	cache := NewCache(dev)
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	cache.AdvanceEpoch()
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	win.Reconfigure(targetConfig(1024, 768))
	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	cache.Shutdown()
	cache.Shutdown()

	if got := len(dev.destroyedHandles()); got != 2 {
		t.Errorf("destroyed %d handles, want 2", got)
	}
	if _, err := cache.GetOrBuild(context.Background(), desc, win); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("err = %v, want ErrCacheClosed", err)
	}
}

func TestCacheFiresBuildEvents(t *testing.T) {
	es := core.NewEventSystem()
	var mu sync.Mutex
	var rebuilt, failed []BuildEvent
	listener := &struct{ name string }{"test"}
	es.Register(core.EVENT_CODE_PIPELINE_REBUILT, listener, func(ctx core.EventContext) bool {
		mu.Lock()
		rebuilt = append(rebuilt, ctx.Data.(BuildEvent))
		mu.Unlock()
		return true
	})
	es.Register(core.EVENT_CODE_PIPELINE_BUILD_FAILED, listener, func(ctx core.EventContext) bool {
		mu.Lock()
		failed = append(failed, ctx.Data.(BuildEvent))
		mu.Unlock()
		return true
	})

	dev := &fakeDevice{}
	cache := NewCache(dev, WithEventSystem(es))
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	win.Reconfigure(targetConfig(0, 0))
	cache.GetOrBuild(context.Background(), desc, win)

	mu.Lock()
	defer mu.Unlock()
	if len(rebuilt) != 1 || rebuilt[0].Name != "triangle" || rebuilt[0].Generation != 1 {
		t.Errorf("rebuilt events = %+v", rebuilt)
	}
	if len(failed) != 1 || failed[0].Err == nil || failed[0].Generation != 2 {
		t.Errorf("failed events = %+v", failed)
	}
}

func TestEvictDuringBuildIsNotCached(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	cache := NewCache(dev)
	defer cache.Shutdown()
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrBuild(ctx, desc, win)
		done <- err
	}()
	<-dev.started
	if !cache.Building(desc) {
		t.Error("Building() = false while the device is blocked")
	}
	cancel()
	<-done

	cache.Evict(desc)
	close(dev.gate)

	// wait for the abandoned build to land on the retire list
	for cache.Building(desc) {
		time.Sleep(time.Millisecond)
	}
	stats := cache.Stats()
	if stats.Live != 0 || stats.Retiring != 1 {
		t.Errorf("live = %d, retiring = %d; want 0, 1", stats.Live, stats.Retiring)
	}

	if _, err := cache.GetOrBuild(context.Background(), desc, win); err != nil {
		t.Fatal(err)
	}
	if dev.createdCount() != 2 {
		t.Errorf("created = %d, want a fresh build after eviction", dev.createdCount())
	}
}

func TestShutdownWaitsForRunningBuilds(t *testing.T) {
	dev := &blockingDevice{release: make(chan struct{}), started: make(chan struct{})}
	cache := NewCache(dev)
	win := newWindow(t, 800, 600)
	desc := newDescriptor(t, "triangle", metadata.FaceCullModeBack)

	go cache.GetOrBuild(context.Background(), desc, win)
	<-dev.started

	shut := make(chan struct{})
	go func() {
		cache.Shutdown()
		close(shut)
	}()
	select {
	case <-shut:
		t.Fatal("Shutdown returned while the device was still building")
	case <-time.After(20 * time.Millisecond):
	}

	close(dev.release)
	<-shut
	if !dev.destroyed.Load() {
		t.Error("handle built after shutdown was not destroyed")
	}
}

// blockingDevice ignores cancellation, like a driver call in progress.
type blockingDevice struct {
	release   chan struct{}
	started   chan struct{}
	destroyed atomic.Bool
}

func (d *blockingDevice) CreatePipeline(ctx context.Context, descriptor *metadata.PipelineDescriptor, config metadata.TargetConfig) (Handle, error) {
	close(d.started)
	<-d.release
	return &fakeHandle{id: 1, config: config}, nil
}

func (d *blockingDevice) DestroyPipeline(h Handle) { d.destroyed.Store(true) }
