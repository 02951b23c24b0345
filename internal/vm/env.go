package vm

import "sync"

// Environment is a mutable lexical scope chain. The global environment is
// shared across worker tasks, so every operation takes the per-environment
// lock; lexical scopes created inside one task pay the same (uncontended)
// lock rather than carrying a separate unsynchronized variant.
type Environment struct {
	mu        sync.RWMutex
	store     map[string]Value
	enclosing *Environment
}

func NewEnvironment() *Environment {
	return &Environment{store: make(map[string]Value)}
}

func NewEnclosedEnvironment(outer *Environment) *Environment {
	return &Environment{store: make(map[string]Value), enclosing: outer}
}

// Define inserts or overwrites a binding in this scope.
func (e *Environment) Define(name string, val Value) {
	e.mu.Lock()
	e.store[name] = val
	e.mu.Unlock()
}

// Get walks the chain outward; ok is false when the chain is exhausted.
func (e *Environment) Get(name string) (Value, bool) {
	for env := e; env != nil; env = env.enclosing {
		env.mu.RLock()
		v, ok := env.store[name]
		env.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return NilVal(), false
}

// Assign walks outward to the first scope owning the name and mutates it;
// ok is false when no scope owns the name.
func (e *Environment) Assign(name string, val Value) bool {
	for env := e; env != nil; env = env.enclosing {
		env.mu.Lock()
		if _, ok := env.store[name]; ok {
			env.store[name] = val
			env.mu.Unlock()
			return true
		}
		env.mu.Unlock()
	}
	return false
}

// Remove deletes the binding from the nearest scope owning it.
func (e *Environment) Remove(name string) bool {
	for env := e; env != nil; env = env.enclosing {
		env.mu.Lock()
		if _, ok := env.store[name]; ok {
			delete(env.store, name)
			env.mu.Unlock()
			return true
		}
		env.mu.Unlock()
	}
	return false
}

// HasLocal reports whether this scope (not the chain) owns the name.
func (e *Environment) HasLocal(name string) bool {
	e.mu.RLock()
	_, ok := e.store[name]
	e.mu.RUnlock()
	return ok
}

// Enclosing exposes the parent scope.
func (e *Environment) Enclosing() *Environment { return e.enclosing }

// CaptureFrom builds the closure environment: a fresh scope over parent,
// holding a copy of each named binding's current value. Later mutations of
// the source scope do not leak into the capture.
func CaptureFrom(src *Environment, names []string, parent *Environment) *Environment {
	captured := NewEnclosedEnvironment(parent)
	for _, name := range names {
		if v, ok := src.Get(name); ok {
			captured.Define(name, v)
		}
	}
	return captured
}
