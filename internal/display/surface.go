// Package display abstracts the screen the avatar draws on.
//
// A Surface hands out image and label objects and guards them with a single
// mutual-exclusion lock. The render task reads the same object tree
// asynchronously, so every mutation must happen between Lock and Unlock.
package display

import "errors"

var (
	// ErrUnknownSource is returned when an image source cannot be resolved.
	ErrUnknownSource = errors.New("unknown image source")
	// ErrCreate is returned when the surface cannot allocate an object.
	ErrCreate = errors.New("cannot create display object")
)

// EventKind identifies events raised by display objects
type EventKind string

const (
	// EventReady fires after an image finished loading a new source.
	EventReady EventKind = "ready"
)

// Event is delivered to handlers registered with Object.On
type Event struct {
	Kind   EventKind
	Target Object
}

// Handler receives object events. It runs with the surface lock held.
type Handler func(Event)

// Object is a node owned by a Surface
type Object interface {
	Name() string
	Show()
	Hide()
	Hidden() bool
	On(kind EventKind, h Handler)
}

// Image is an object that renders an animation resource
type Image interface {
	Object
	SetSource(resource string) error
	Source() string
}

// Label is an object that renders text
type Label interface {
	Object
	SetText(text string)
	Text() string
}

// Surface creates objects and serializes access to them
type Surface interface {
	Lock()
	Unlock()
	CreateImage(name string) (Image, error)
	CreateLabel(name string) (Label, error)
	Delete(obj Object)
}

// Guard acquires the surface lock and returns the release function.
//
//	defer display.Guard(s)()
func Guard(s Surface) func() {
	s.Lock()
	return s.Unlock
}
