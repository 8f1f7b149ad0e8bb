package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-gfx/engine/assets/loaders"
	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypePipeline
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypePipeline:
		return "pipeline"
	default:
		return "none"
	}
}

const (
	ShaderDir   = "shaders"
	PipelineDir = "pipelines"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	// Path is relative to the assets root, slash separated.
	Path     string
	Type     AssetType
	Modified time.Time
}

// AssetManager indexes the assets directory and, when watching, fires
// core.EVENT_CODE_ASSET_CHANGED with a core.AssetEvent for every indexed
// file that is written, created or removed.
type AssetManager struct {
	root   string
	events *core.EventSystem

	shaders   Loader[*loaders.ShaderSource]
	pipelines Loader[*metadata.PipelineConfig]

	mu     sync.RWMutex
	assets map[string]AssetInfo

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewAssetManager(es *core.EventSystem) *AssetManager {
	if es == nil {
		es = core.DefaultEventSystem()
	}
	return &AssetManager{
		events:    es,
		shaders:   loaders.ShaderLoader{},
		pipelines: loaders.PipelineLoader{},
		assets:    make(map[string]AssetInfo),
		done:      make(chan struct{}),
	}
}

// Initialize indexes root and starts watching it if watch is set.
func (am *AssetManager) Initialize(root string, watch bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	am.root = abs

	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		am.watcher = w
	}
	if err := am.walk(abs); err != nil {
		am.Shutdown()
		return err
	}
	if am.watcher != nil {
		am.wg.Add(1)
		go am.watch()
	}
	core.LogInfo("indexed %d assets under %s (watching: %t)", len(am.List(AssetTypeNone)), abs, watch)
	return nil
}

func (am *AssetManager) Root() string { return am.root }

// walk indexes every file under dir and watches every directory when a
// watcher is running.
func (am *AssetManager) walk(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if am.watcher != nil {
				return am.watcher.Add(path)
			}
			return nil
		}
		am.index(path)
		return nil
	})
}

func (am *AssetManager) watch() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.watcher.Events:
			if !ok {
				return
			}
			am.handle(e)
		case err, ok := <-am.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)
		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handle(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.walk(e.Name); err != nil {
				core.LogWarn("watching new directory %s: %s", e.Name, err)
			}
			return
		}
	}

	switch {
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		if info, ok := am.unindex(e.Name); ok {
			am.fire(info, true)
		}
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if info, ok := am.index(e.Name); ok {
			am.fire(info, false)
		}
	}
}

func (am *AssetManager) fire(info AssetInfo, removed bool) {
	core.LogDebug("%s asset %s changed (removed: %t)", info.Type, info.Path, removed)
	am.events.Fire(core.EventContext{
		Code:   core.EVENT_CODE_ASSET_CHANGED,
		Sender: am,
		Data:   core.AssetEvent{Path: info.Path, Removed: removed},
	})
}

func (am *AssetManager) relative(path string) (string, bool) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (am *AssetManager) index(path string) (AssetInfo, bool) {
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}, false
	}
	t := DetermineAssetType(rel)
	if t == AssetTypeNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{Path: rel, Type: t, Modified: time.Now()}
	if s, err := os.Stat(path); err == nil {
		info.Modified = s.ModTime()
	}
	am.mu.Lock()
	am.assets[rel] = info
	am.mu.Unlock()
	return info, true
}

func (am *AssetManager) unindex(path string) (AssetInfo, bool) {
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}, false
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	info, ok := am.assets[rel]
	delete(am.assets, rel)
	return info, ok
}

// DetermineAssetType classifies a slash separated path relative to the
// assets root.
func DetermineAssetType(rel string) AssetType {
	dir, _, _ := strings.Cut(rel, "/")
	switch {
	case dir == ShaderDir && strings.HasSuffix(rel, ".spv"):
		return AssetTypeShader
	case dir == PipelineDir && strings.HasSuffix(rel, ".toml"):
		return AssetTypePipeline
	default:
		return AssetTypeNone
	}
}

func (am *AssetManager) Info(rel string) (AssetInfo, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	info, ok := am.assets[rel]
	return info, ok
}

// List returns the indexed paths of type t, or of every type for
// AssetTypeNone, sorted.
func (am *AssetManager) List(t AssetType) []string {
	am.mu.RLock()
	defer am.mu.RUnlock()
	var out []string
	for rel, info := range am.assets {
		if t == AssetTypeNone || info.Type == t {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

func (am *AssetManager) lookup(rel string, t AssetType) (string, error) {
	info, ok := am.Info(rel)
	if !ok || info.Type != t {
		return "", fmt.Errorf("%w: %s %s", ErrAssetNotFound, t, rel)
	}
	return filepath.Join(am.root, filepath.FromSlash(rel)), nil
}

// LoadShader reads a SPIR-V module given relative to the assets root.
func (am *AssetManager) LoadShader(rel string) (*loaders.ShaderSource, error) {
	path, err := am.lookup(rel, AssetTypeShader)
	if err != nil {
		return nil, err
	}
	return am.shaders.Load(path)
}

// LoadPipeline reads the definition assets/pipelines/<name>.toml.
func (am *AssetManager) LoadPipeline(name string) (*metadata.PipelineConfig, error) {
	path, err := am.lookup(PipelineDir+"/"+name+".toml", AssetTypePipeline)
	if err != nil {
		return nil, err
	}
	return am.pipelines.Load(path)
}

// PipelineName returns the definition name for a pipeline asset path.
func PipelineName(rel string) (string, bool) {
	if DetermineAssetType(rel) != AssetTypePipeline {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(rel, PipelineDir+"/"), ".toml"), true
}

func (am *AssetManager) Shutdown() {
	am.mu.Lock()
	if am.closed {
		am.mu.Unlock()
		return
	}
	am.closed = true
	am.mu.Unlock()

	close(am.done)
	am.wg.Wait()
	if am.watcher != nil {
		am.watcher.Close()
	}
}
