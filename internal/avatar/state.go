// Package avatar plays the GIF face: one visible slot out of idle,
// listening and speaking, an idle cycle advanced by per-entry durations, and
// a typewriter caption under the speaking face.
package avatar

import (
	"errors"
	"time"
)

var (
	ErrNoSurface          = errors.New("avatar: display surface is nil")
	ErrNoScheduler        = errors.New("avatar: timer scheduler is nil")
	ErrInvalidConfig      = errors.New("avatar: invalid config")
	ErrResource           = errors.New("avatar: cannot create display resource")
	ErrTimer              = errors.New("avatar: cannot create timer")
	ErrAlreadyInitialized = errors.New("avatar: already initialized")
)

// Slot names one of the animation roles
type Slot string

const (
	// SlotNone is the active slot before the loop first starts.
	SlotNone      Slot = ""
	SlotIdle      Slot = "idle"
	SlotListening Slot = "listening"
	SlotSpeaking  Slot = "speaking"
)

// Reason says why a Change was emitted
type Reason string

const (
	ReasonTransition   Reason = "transition"
	ReasonAdvance      Reason = "advance"
	ReasonCaptionStart Reason = "caption_start"
	ReasonCaptionStep  Reason = "caption_step"
	ReasonCaptionDone  Reason = "caption_done"
)

// State is a snapshot of the controller
type State struct {
	Active         Slot          `json:"active"`
	IdleIndex      int           `json:"idleIndex"`
	IdleSource     string        `json:"idleSource"`
	Period         time.Duration `json:"period"`
	Paused         bool          `json:"paused"`
	Caption        string        `json:"caption"`
	CaptionFull    string        `json:"captionFull"`
	CaptionVisible bool          `json:"captionVisible"`
	Revealed       int           `json:"revealed"`
	Initialized    bool          `json:"initialized"`
}

// Change is delivered to the state handler after the controller mutates
type Change struct {
	Reason Reason `json:"reason"`
	State  State  `json:"state"`
}

func slotObjectName(s Slot) string {
	return "avatar." + string(s)
}

const captionObjectName = "avatar.caption"
