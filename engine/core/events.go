package core

import "sync"

// EventContext is what listeners receive. Data carries a typed payload
// whose concrete type is documented next to each event code.
type EventContext struct {
	Code   SystemEventCode
	Sender interface{}
	Data   interface{}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed. Data: KeyEvent.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Keyboard key released. Data: KeyEvent.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Resized/resolution changed from the OS. Data: ResizeEvent.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// The window switched between windowed and fullscreen.
	// Data: the metadata package's WindowMode.
	EVENT_CODE_WINDOW_MODE_CHANGED SystemEventCode = 0x09

	// A watched asset was written, created or removed. Data: AssetEvent.
	EVENT_CODE_ASSET_CHANGED SystemEventCode = 0x10

	// A pipeline instance was (re)built for a target generation.
	// Data: the pipeline package's BuildEvent.
	EVENT_CODE_PIPELINE_REBUILT SystemEventCode = 0x20

	// A pipeline build failed. Data: the pipeline package's BuildEvent.
	EVENT_CODE_PIPELINE_BUILD_FAILED SystemEventCode = 0x21

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type KeyEvent struct {
	Key int
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type AssetEvent struct {
	Path    string
	Removed bool
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventSystem dispatches events synchronously on the firing goroutine.
// Listeners are compared by identity, so pass pointers.
type EventSystem struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventSystem() *EventSystem {
	return &EventSystem{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

// Register to listen for when events are sent with the provided code. A
// listener already registered for the code is not registered again and
// false is returned.
func (es *EventSystem) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	for _, e := range es.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	es.registered[code] = append(es.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister from listening for when events are sent with the provided code.
// Returns false if no matching registration is found.
func (es *EventSystem) Unregister(code SystemEventCode, listener interface{}) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	events := es.registered[code]
	for i, e := range events {
		if e.listener == listener {
			es.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends an event to the listeners of its code in registration order.
// When a handler returns true the event is considered handled and is not
// passed on to any more listeners.
func (es *EventSystem) Fire(ctx EventContext) bool {
	es.mu.RLock()
	events := es.registered[ctx.Code]
	es.mu.RUnlock()

	// callbacks may register or unregister; they see the snapshot taken above
	for _, e := range events {
		if e.callback(ctx) {
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (es *EventSystem) Shutdown() {
	es.mu.Lock()
	es.registered = make(map[SystemEventCode][]registeredEvent)
	es.mu.Unlock()
}

var (
	onceEvent    sync.Once
	defaultEvent *EventSystem
)

// DefaultEventSystem is the process wide event system used by platform
// callbacks that cannot carry their own state.
func DefaultEventSystem() *EventSystem {
	onceEvent.Do(func() {
		defaultEvent = NewEventSystem()
	})
	return defaultEvent
}

func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	return DefaultEventSystem().Register(code, listener, onEvent)
}

func EventUnregister(code SystemEventCode, listener interface{}) bool {
	return DefaultEventSystem().Unregister(code, listener)
}

func EventFire(code SystemEventCode, sender interface{}, data interface{}) bool {
	return DefaultEventSystem().Fire(EventContext{Code: code, Sender: sender, Data: data})
}
