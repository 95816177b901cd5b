package display

import (
	"fmt"
	"sort"
	"sync"
)

// SourceResolver reports whether a resource name can be loaded
type SourceResolver interface {
	Has(name string) bool
}

// Object kinds reported in ObjectState
const (
	KindImage = "image"
	KindLabel = "label"
)

// ObjectState is a rendered view of one object
type ObjectState struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Hidden bool   `json:"hidden"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text,omitempty"`
	Loads  int    `json:"loads,omitempty"` // successful SetSource calls
}

// Memory is an in-process Surface. Renderers read it through Snapshot.
type Memory struct {
	mu       sync.Mutex
	resolver SourceResolver
	objects  map[string]*memObject
	order    []string

	// FailCreate makes CreateImage/CreateLabel fail for the named objects.
	FailCreate map[string]bool
}

// NewMemory creates an empty surface. resolver may be nil to accept any source.
func NewMemory(resolver SourceResolver) *Memory {
	return &Memory{
		resolver:   resolver,
		objects:    make(map[string]*memObject),
		FailCreate: make(map[string]bool),
	}
}

func (m *Memory) Lock()   { m.mu.Lock() }
func (m *Memory) Unlock() { m.mu.Unlock() }

// CreateImage must be called with the lock held
func (m *Memory) CreateImage(name string) (Image, error) {
	obj, err := m.create(name, KindImage)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// CreateLabel must be called with the lock held
func (m *Memory) CreateLabel(name string) (Label, error) {
	obj, err := m.create(name, KindLabel)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (m *Memory) create(name, kind string) (*memObject, error) {
	if m.FailCreate[name] {
		return nil, fmt.Errorf("%w: %s", ErrCreate, name)
	}
	if _, exists := m.objects[name]; exists {
		return nil, fmt.Errorf("%w: %s already exists", ErrCreate, name)
	}
	obj := &memObject{
		surface:  m,
		name:     name,
		kind:     kind,
		handlers: make(map[EventKind][]Handler),
	}
	m.objects[name] = obj
	m.order = append(m.order, name)
	return obj, nil
}

// Delete removes an object. Must be called with the lock held.
func (m *Memory) Delete(obj Object) {
	if obj == nil {
		return
	}
	name := obj.Name()
	if _, ok := m.objects[name]; !ok {
		return
	}
	delete(m.objects, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns every object's state in creation order
func (m *Memory) Snapshot() []ObjectState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ObjectState, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.objects[name].state())
	}
	return out
}

// Visible returns the names of visible image objects, sorted
func (m *Memory) Visible() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name, obj := range m.objects {
		if obj.kind == KindImage && !obj.hidden {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Object looks up an object's state by name
func (m *Memory) Object(name string) (ObjectState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[name]
	if !ok {
		return ObjectState{}, false
	}
	return obj.state(), true
}

type memObject struct {
	surface  *Memory
	name     string
	kind     string
	hidden   bool
	source   string
	text     string
	loads    int
	handlers map[EventKind][]Handler
}

func (o *memObject) Name() string { return o.name }
func (o *memObject) Show()        { o.hidden = false }
func (o *memObject) Hide()        { o.hidden = true }
func (o *memObject) Hidden() bool { return o.hidden }

func (o *memObject) On(kind EventKind, h Handler) {
	o.handlers[kind] = append(o.handlers[kind], h)
}

func (o *memObject) SetSource(resource string) error {
	if r := o.surface.resolver; r != nil && !r.Has(resource) {
		return fmt.Errorf("%w: %s", ErrUnknownSource, resource)
	}
	o.source = resource
	o.loads++
	for _, h := range o.handlers[EventReady] {
		h(Event{Kind: EventReady, Target: o})
	}
	return nil
}

func (o *memObject) Source() string { return o.source }

func (o *memObject) SetText(text string) { o.text = text }
func (o *memObject) Text() string        { return o.text }

func (o *memObject) state() ObjectState {
	return ObjectState{
		Name:   o.name,
		Kind:   o.kind,
		Hidden: o.hidden,
		Source: o.source,
		Text:   o.text,
		Loads:  o.loads,
	}
}
