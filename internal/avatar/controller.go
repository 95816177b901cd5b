package avatar

import (
	"fmt"

	"github.com/normanking/cortexface/internal/display"
	"github.com/normanking/cortexface/internal/timer"
	"github.com/rs/zerolog"
)

// Controller owns the avatar's slot objects, the idle-advance timer and the
// caption. All methods must be called from the dispatch loop that also runs
// the scheduler's callbacks.
type Controller struct {
	surface   display.Surface
	scheduler timer.Scheduler
	cfg       Config
	logger    zerolog.Logger

	slots   map[Slot]display.Image
	label   display.Label
	primary timer.Timer
	caption captionState

	active      Slot
	idleIndex   int
	initialized bool
	destroyed   bool

	onChange func(Change)
}

// New creates a controller. Nothing touches the surface until Initialize.
func New(surface display.Surface, scheduler timer.Scheduler, cfg Config, logger zerolog.Logger) *Controller {
	return &Controller{
		surface:   surface,
		scheduler: scheduler,
		cfg:       cfg.WithDefaults(),
		logger:    logger.With().Str("component", "avatar").Logger(),
		slots:     make(map[Slot]display.Image),
	}
}

// SetStateHandler sets the callback run after every change
func (c *Controller) SetStateHandler(handler func(Change)) {
	c.onChange = handler
}

// Config returns the effective configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Initialize creates the slot objects and the caption label, loads the first
// idle animation and starts the idle timer. Everything stays hidden until
// StartLoop. On failure all partial resources are released and the
// controller stays inert.
func (c *Controller) Initialize() (err error) {
	if c.initialized || c.destroyed {
		return ErrAlreadyInitialized
	}
	if c.surface == nil {
		c.logger.Error().Msg("Display not initialized")
		return ErrNoSurface
	}
	if c.scheduler == nil {
		return ErrNoScheduler
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	defer display.Guard(c.surface)()
	defer func() {
		if err != nil {
			c.logger.Error().Err(err).Msg("Avatar initialization failed")
			c.releaseLocked()
		}
	}()

	sources := map[Slot]string{
		SlotIdle:      c.cfg.IdleCycle[0].Resource,
		SlotListening: c.cfg.Listening,
		SlotSpeaking:  c.cfg.Speaking,
	}
	for _, slot := range []Slot{SlotIdle, SlotListening, SlotSpeaking} {
		src := sources[slot]
		if src == "" {
			continue
		}
		img, cerr := c.surface.CreateImage(slotObjectName(slot))
		if cerr != nil {
			return fmt.Errorf("%w: %s slot: %w", ErrResource, slot, cerr)
		}
		c.slots[slot] = img
		img.Hide()
		img.On(display.EventReady, c.onImageReady)
		if serr := img.SetSource(src); serr != nil {
			return fmt.Errorf("%w: %s slot source %q: %w", ErrResource, slot, src, serr)
		}
	}

	if c.cfg.Caption {
		lbl, cerr := c.surface.CreateLabel(captionObjectName)
		if cerr != nil {
			return fmt.Errorf("%w: caption label: %w", ErrResource, cerr)
		}
		c.label = lbl
		lbl.SetText("")
		lbl.Hide()
	}

	first := c.cfg.IdleCycle[0]
	primary, terr := c.scheduler.NewTimer(first.Duration+c.cfg.StartMargin, c.onIdleTimer)
	if terr != nil {
		return fmt.Errorf("%w: %w", ErrTimer, terr)
	}
	c.primary = primary

	c.idleIndex = 1 % len(c.cfg.IdleCycle)
	c.active = SlotNone
	c.initialized = true

	c.logger.Info().
		Int("idleEntries", len(c.cfg.IdleCycle)).
		Bool("listening", c.cfg.Listening != "").
		Bool("speaking", c.cfg.Speaking != "").
		Bool("caption", c.cfg.Caption).
		Msg("Avatar initialized")
	return nil
}

// IsInitialized reports whether Initialize succeeded and Destroy was not called
func (c *Controller) IsInitialized() bool {
	return c.ready()
}

func (c *Controller) ready() bool {
	return c.initialized && !c.destroyed
}

// StartLoop shows the idle slot and resumes idle cycling. It is also the
// return-to-standby transition after listening or speaking.
func (c *Controller) StartLoop() {
	if !c.ready() {
		return
	}
	c.logger.Info().Msg("Starting animation loop")

	release := display.Guard(c.surface)
	changed := c.active != SlotIdle
	if changed {
		c.switchToLocked(SlotIdle)
	}
	c.primary.Resume()
	c.hideCaptionLocked()
	state := c.stateLocked()
	release()

	if changed {
		c.notify(ReasonTransition, state)
	}
}

// ShowListeningAnimation switches to the listening slot and pauses idle cycling
func (c *Controller) ShowListeningAnimation() {
	c.showActive(SlotListening, true)
}

// ShowSpeakingAnimation switches to the speaking slot. The caption is left
// alone; callers drive it with ShowSpeakingText.
func (c *Controller) ShowSpeakingAnimation() {
	c.showActive(SlotSpeaking, false)
}

func (c *Controller) showActive(slot Slot, hideCaption bool) {
	if !c.ready() {
		return
	}
	if _, ok := c.slots[slot]; !ok {
		c.logger.Debug().Str("slot", string(slot)).Msg("Board has no such slot, ignoring")
		return
	}

	release := display.Guard(c.surface)
	if c.active == slot {
		release()
		return
	}
	c.logger.Info().Str("slot", string(slot)).Msg("Showing animation")
	c.switchToLocked(slot)
	c.primary.Pause()
	if hideCaption {
		c.hideCaptionLocked()
	}
	state := c.stateLocked()
	release()

	c.notify(ReasonTransition, state)
}

// switchToLocked hides the current slot before showing the new one
func (c *Controller) switchToLocked(slot Slot) {
	if cur, ok := c.slots[c.active]; ok {
		cur.Hide()
	}
	c.active = slot
	c.slots[slot].Show()
}

// onIdleTimer loads the current idle entry, stretches the timer to that
// entry's duration and moves the index on. Firings outside Idle are ignored.
func (c *Controller) onIdleTimer(timer.Timer) {
	if !c.ready() {
		return
	}

	release := display.Guard(c.surface)
	if c.active != SlotIdle {
		release()
		return
	}

	entry := c.cfg.IdleCycle[c.idleIndex]
	c.logger.Debug().
		Int("index", c.idleIndex).
		Str("resource", entry.Resource).
		Dur("duration", entry.Duration).
		Msg("Loading idle animation")

	if err := c.slots[SlotIdle].SetSource(entry.Resource); err != nil {
		c.logger.Warn().Err(err).Str("resource", entry.Resource).Msg("Failed to load idle animation")
	}
	c.primary.SetPeriod(entry.Duration + c.cfg.AdvanceMargin)
	c.idleIndex = (c.idleIndex + 1) % len(c.cfg.IdleCycle)
	state := c.stateLocked()
	release()

	c.notify(ReasonAdvance, state)
}

// ReloadResource sets resource again on every slot currently showing it, so
// a GIF rewritten on disk reaches the screen. It returns the number of slots
// reloaded.
func (c *Controller) ReloadResource(resource string) int {
	if !c.ready() || resource == "" {
		return 0
	}
	defer display.Guard(c.surface)()

	n := 0
	for slot, img := range c.slots {
		if img.Source() != resource {
			continue
		}
		if err := img.SetSource(resource); err != nil {
			c.logger.Warn().Err(err).Str("slot", string(slot)).Str("resource", resource).Msg("Failed to reload animation")
			continue
		}
		n++
	}
	return n
}

func (c *Controller) onImageReady(e display.Event) {
	if img, ok := e.Target.(display.Image); ok {
		c.logger.Debug().Str("object", img.Name()).Str("source", img.Source()).Msg("Animation ready")
	}
}

// State returns a snapshot of the controller
func (c *Controller) State() State {
	if c.surface == nil {
		return State{}
	}
	defer display.Guard(c.surface)()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		Active:      c.active,
		IdleIndex:   c.idleIndex,
		Initialized: c.ready(),
		CaptionFull: c.caption.full,
		Revealed:    c.caption.revealed,
	}
	if img, ok := c.slots[SlotIdle]; ok {
		s.IdleSource = img.Source()
	}
	if c.primary != nil {
		s.Period = c.primary.Period()
		s.Paused = c.primary.Paused()
	}
	if c.label != nil {
		s.Caption = c.label.Text()
		s.CaptionVisible = !c.label.Hidden()
	}
	return s
}

// Destroy stops both timers, then releases the display objects
func (c *Controller) Destroy() {
	if !c.ready() {
		return
	}
	defer display.Guard(c.surface)()
	c.releaseLocked()
	c.destroyed = true
	c.logger.Info().Msg("Avatar destroyed")
}

// releaseLocked deletes timers before objects so no callback runs against
// freed state.
func (c *Controller) releaseLocked() {
	if c.primary != nil {
		c.primary.Delete()
		c.primary = nil
	}
	c.stopCaptionLocked()

	for slot, img := range c.slots {
		c.surface.Delete(img)
		delete(c.slots, slot)
	}
	if c.label != nil {
		c.surface.Delete(c.label)
		c.label = nil
	}
	c.active = SlotNone
}

func (c *Controller) notify(reason Reason, state State) {
	if c.onChange != nil {
		c.onChange(Change{Reason: reason, State: state})
	}
}
