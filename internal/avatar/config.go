package avatar

import (
	"fmt"
	"time"
)

// CaptionUnit selects how much text one caption step reveals
type CaptionUnit string

const (
	// CaptionRune reveals one UTF-8 code point per step.
	CaptionRune CaptionUnit = "rune"
	// CaptionGrapheme reveals one user-perceived character per step.
	CaptionGrapheme CaptionUnit = "grapheme"
)

const (
	DefaultStartMargin     = 500 * time.Millisecond
	DefaultAdvanceMargin   = 100 * time.Millisecond
	DefaultCaptionInterval = 50 * time.Millisecond
)

// IdleEntry is one animation of the idle cycle and how long it stays on screen
type IdleEntry struct {
	Resource string
	Duration time.Duration
}

// Config describes one board's avatar: its idle cycle, which optional
// slots it has, and the caption overlay.
type Config struct {
	IdleCycle []IdleEntry

	// Listening and Speaking name the slot resources. Empty means the board
	// has no such slot.
	Listening string
	Speaking  string

	Caption         bool
	CaptionInterval time.Duration
	CaptionUnit     CaptionUnit

	// StartMargin pads the first idle period, AdvanceMargin every later one,
	// so the timer does not land on a display redraw.
	StartMargin   time.Duration
	AdvanceMargin time.Duration
}

// WithDefaults fills zero fields with defaults
func (c Config) WithDefaults() Config {
	if c.StartMargin == 0 {
		c.StartMargin = DefaultStartMargin
	}
	if c.AdvanceMargin == 0 {
		c.AdvanceMargin = DefaultAdvanceMargin
	}
	if c.CaptionInterval == 0 {
		c.CaptionInterval = DefaultCaptionInterval
	}
	if c.CaptionUnit == "" {
		c.CaptionUnit = CaptionRune
	}
	c.IdleCycle = append([]IdleEntry(nil), c.IdleCycle...)
	return c
}

// Validate reports the first problem with the configuration
func (c Config) Validate() error {
	if len(c.IdleCycle) == 0 {
		return fmt.Errorf("%w: idle cycle is empty", ErrInvalidConfig)
	}
	for i, e := range c.IdleCycle {
		if e.Resource == "" {
			return fmt.Errorf("%w: idle entry %d has no resource", ErrInvalidConfig, i)
		}
		if e.Duration <= 0 {
			return fmt.Errorf("%w: idle entry %d (%s) has duration %v", ErrInvalidConfig, i, e.Resource, e.Duration)
		}
	}
	if c.StartMargin < 0 || c.AdvanceMargin < 0 {
		return fmt.Errorf("%w: negative timer margin", ErrInvalidConfig)
	}
	if c.CaptionInterval < 0 {
		return fmt.Errorf("%w: negative caption interval", ErrInvalidConfig)
	}
	switch c.CaptionUnit {
	case "", CaptionRune, CaptionGrapheme:
	default:
		return fmt.Errorf("%w: unknown caption unit %q", ErrInvalidConfig, c.CaptionUnit)
	}
	return nil
}
