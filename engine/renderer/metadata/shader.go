package metadata

import (
	"fmt"
	"sync"
)

type ShaderStageKind uint8

const (
	ShaderStageVertex ShaderStageKind = iota + 1
	ShaderStageFragment
)

const DefaultEntryPoint = "main"

var shaderStageKindNames = map[ShaderStageKind]string{
	ShaderStageVertex:   "vertex",
	ShaderStageFragment: "fragment",
}

func (k ShaderStageKind) String() string {
	if s, ok := shaderStageKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ShaderStageKind(%d)", uint8(k))
}

func (k ShaderStageKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ShaderStageKind) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, shaderStageKindNames, k)
}

// ModuleHandle identifies a compiled shader module for the lifetime of the
// process. Two stages over the same module share the handle.
type ModuleHandle uint64

// ShaderModule is a compiled shader owned by the graphics backend.
type ShaderModule interface {
	Handle() ModuleHandle
	Loaded() bool
	HasEntryPoint(name string) bool
	Destroy()
}

// ShaderStage is one programmable stage of a pipeline. It is immutable after
// construction and shared by reference count across descriptors; the
// module is destroyed when the last reference is released.
type ShaderStage struct {
	kind   ShaderStageKind
	module ShaderModule
	entry  string

	mu   sync.Mutex
	refs int32
}

// NewShaderStage returns a stage holding one reference. An empty entry
// point selects DefaultEntryPoint.
func NewShaderStage(kind ShaderStageKind, module ShaderModule, entry string) (*ShaderStage, error) {
	if _, ok := shaderStageKindNames[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidStage, kind)
	}
	if module == nil || !module.Loaded() {
		return nil, fmt.Errorf("%w: %s module is not loaded", ErrInvalidStage, kind)
	}
	if entry == "" {
		entry = DefaultEntryPoint
	}
	if !module.HasEntryPoint(entry) {
		return nil, fmt.Errorf("%w: %s module has no entry point %q", ErrInvalidStage, kind, entry)
	}
	return &ShaderStage{
		kind:   kind,
		module: module,
		entry:  entry,
		refs:   1,
	}, nil
}

func (s *ShaderStage) Kind() ShaderStageKind {
	return s.kind
}

func (s *ShaderStage) Module() ShaderModule {
	return s.module
}

func (s *ShaderStage) EntryPoint() string {
	return s.entry
}

// Retain adds a reference. Retaining a released stage panics.
func (s *ShaderStage) Retain() *ShaderStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs <= 0 {
		panic("metadata: retain of released shader stage")
	}
	s.refs++
	return s
}

// Release drops a reference and destroys the module with the last one.
// It reports whether the module was destroyed.
func (s *ShaderStage) Release() bool {
	s.mu.Lock()
	if s.refs <= 0 {
		s.mu.Unlock()
		return false
	}
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()

	if last {
		s.module.Destroy()
	}
	return last
}

func (s *ShaderStage) RefCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *ShaderStage) String() string {
	return fmt.Sprintf("%s:%d:%s", s.kind, s.module.Handle(), s.entry)
}
