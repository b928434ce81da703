// Package state implements a small reactive key/value store. Listeners
// subscribe to individual keys and are notified synchronously on change;
// computed properties derive values from the raw map on demand.
package state

import (
	"log"
	"reflect"
	"sync"
)

// historyLimit bounds the change log per manager.
const historyLimit = 10

// maxNotifyDepth bounds listener re-entrancy. A listener may call Set,
// but a Set loop deeper than this is dropped with a log line instead of
// overflowing the stack.
const maxNotifyDepth = 8

// Listener receives the new and previous value for a key it subscribed to.
type Listener func(newValue, oldValue any)

// Computed derives a value from the full raw state.
type Computed func(raw map[string]any) any

// Change records one mutation for the history ring.
type Change struct {
	Key      string
	NewValue any
	OldValue any
}

type registration struct {
	id int
	fn Listener
}

// Manager is the reactive store. Zero value is not usable; call New.
type Manager struct {
	mu        sync.Mutex
	values    map[string]any
	listeners map[string][]registration
	computed  map[string]Computed
	history   []Change
	nextID    int
	depth     int
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{
		values:    make(map[string]any),
		listeners: make(map[string][]registration),
		computed:  make(map[string]Computed),
	}
}

// sameValue reports whether a Set would be a no-op. Comparable values
// are compared with ==; uncomparable kinds (slices, maps, funcs) only
// match on identity, so rebuilding an equal slice still notifies.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		return va.IsNil() && vb.IsNil() || va.Pointer() == vb.Pointer()
	default:
		return false
	}
}

// Get returns the value for key. A computed property with the same name
// shadows the raw value.
func (m *Manager) Get(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn, ok := m.computed[key]; ok {
		return fn(m.snapshotLocked())
	}
	return m.values[key]
}

// Has reports whether key is present, as either a raw value or a
// computed property.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.computed[key]; ok {
		return true
	}
	_, ok := m.values[key]
	return ok
}

// Set stores value under key and notifies that key's listeners with
// (newValue, oldValue). Setting an identical value is a no-op: no
// history entry, no notification. silent suppresses notification but
// still records the change.
func (m *Manager) Set(key string, value any, silent bool) {
	m.mu.Lock()
	old, existed := m.values[key]
	if existed && sameValue(old, value) {
		m.mu.Unlock()
		return
	}
	m.values[key] = value
	m.history = append(m.history, Change{Key: key, NewValue: value, OldValue: old})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	if silent {
		m.mu.Unlock()
		return
	}
	if m.depth >= maxNotifyDepth {
		log.Printf("state: notify depth exceeded for %q, dropping notification", key)
		m.mu.Unlock()
		return
	}
	m.depth++
	regs := make([]registration, len(m.listeners[key]))
	copy(regs, m.listeners[key])
	m.mu.Unlock()

	// Listeners run outside the lock so they may re-enter Set.
	for _, reg := range regs {
		m.invoke(reg, key, value, old)
	}

	m.mu.Lock()
	m.depth--
	m.mu.Unlock()
}

// invoke runs one listener, isolating panics so a failing listener
// cannot break the others.
func (m *Manager) invoke(reg registration, key string, newValue, oldValue any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("state: listener panic on %q: %v", key, r)
		}
	}()
	reg.fn(newValue, oldValue)
}

// SetMultiple applies each key/value via Set with the same silent flag.
func (m *Manager) SetMultiple(values map[string]any, silent bool) {
	for k, v := range values {
		m.Set(k, v, silent)
	}
}

// Subscribe registers fn for changes to key and returns an unsubscribe
// closure that removes exactly this registration.
func (m *Manager) Subscribe(key string, fn Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[key] = append(m.listeners[key], registration{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		regs := m.listeners[key]
		for i, reg := range regs {
			if reg.id == id {
				m.listeners[key] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// WatchMultiple subscribes fn to each key and returns one closure that
// unsubscribes them all.
func (m *Manager) WatchMultiple(keys []string, fn Listener) func() {
	unsubs := make([]func(), 0, len(keys))
	for _, k := range keys {
		unsubs = append(unsubs, m.Subscribe(k, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// DefineComputed registers a derived property. It shadows any raw value
// stored under the same name in Get, GetAll and Has.
func (m *Manager) DefineComputed(name string, fn Computed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computed[name] = fn
}

// Delete removes a raw value. Listeners are notified with (nil, old).
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	old, ok := m.values[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.values, key)
	m.history = append(m.history, Change{Key: key, NewValue: nil, OldValue: old})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	regs := make([]registration, len(m.listeners[key]))
	copy(regs, m.listeners[key])
	m.mu.Unlock()

	for _, reg := range regs {
		m.invoke(reg, key, nil, old)
	}
}

// GetAll returns a copy of the state with computed properties applied
// over the raw values.
func (m *Manager) GetAll() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snapshotLocked()
	for name, fn := range m.computed {
		out[name] = fn(m.snapshotLocked())
	}
	return out
}

// snapshotLocked copies the raw map. Caller holds mu.
func (m *Manager) snapshotLocked() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// History returns the most recent changes, oldest first, at most 10.
func (m *Manager) History() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Change, len(m.history))
	copy(out, m.history)
	return out
}

// Reset drops all values, history and computed properties. Listener
// registrations survive a reset.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]any)
	m.computed = make(map[string]Computed)
	m.history = nil
}

// ClearListeners removes every listener registration.
func (m *Manager) ClearListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = make(map[string][]registration)
}
