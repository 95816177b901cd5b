package avatar

import (
	"unicode/utf8"

	"github.com/normanking/cortexface/internal/display"
	"github.com/normanking/cortexface/internal/timer"
	"github.com/rivo/uniseg"
)

// captionState tracks one typewriter session. revealed counts bytes of full
// already on the label and only grows until the next ShowSpeakingText.
type captionState struct {
	full     string
	revealed int
	timer    timer.Timer
}

// ShowSpeakingText replaces the caption and reveals it one character per
// caption tick. Ignored when the board has no caption.
func (c *Controller) ShowSpeakingText(text string) {
	if !c.ready() || c.label == nil {
		return
	}

	release := display.Guard(c.surface)
	c.stopCaptionLocked()
	c.caption.full = text
	c.caption.revealed = 0
	c.label.SetText("")
	c.label.Show()

	if text != "" {
		t, err := c.scheduler.NewTimer(c.cfg.CaptionInterval, c.onCaptionTimer)
		if err != nil {
			// Without a timer the caption is shown at once.
			c.logger.Warn().Err(err).Msg("Failed to start caption timer")
			c.caption.revealed = len(text)
			c.label.SetText(text)
		} else {
			c.caption.timer = t
		}
	}
	state := c.stateLocked()
	release()

	c.notify(ReasonCaptionStart, state)
}

func (c *Controller) onCaptionTimer(t timer.Timer) {
	if !c.ready() {
		t.Delete()
		return
	}

	release := display.Guard(c.surface)
	if t != c.caption.timer {
		t.Delete()
		release()
		return
	}

	c.caption.revealed += c.nextUnitLen(c.caption.full[c.caption.revealed:])
	c.label.SetText(c.caption.full[:c.caption.revealed])

	reason := ReasonCaptionStep
	if c.caption.revealed >= len(c.caption.full) {
		c.stopCaptionLocked()
		reason = ReasonCaptionDone
	}
	state := c.stateLocked()
	release()

	c.notify(reason, state)
}

// nextUnitLen returns the byte length of the next displayable unit of s.
// Invalid UTF-8 advances one byte at a time.
func (c *Controller) nextUnitLen(s string) int {
	if s == "" {
		return 0
	}
	if c.cfg.CaptionUnit == CaptionGrapheme {
		cluster, _, _, _ := uniseg.FirstGraphemeClusterInString(s, -1)
		if n := len(cluster); n > 0 {
			return n
		}
	}
	_, size := utf8.DecodeRuneInString(s)
	return size
}

func (c *Controller) stopCaptionLocked() {
	if c.caption.timer != nil {
		c.caption.timer.Delete()
		c.caption.timer = nil
	}
}

func (c *Controller) hideCaptionLocked() {
	c.stopCaptionLocked()
	if c.label != nil {
		c.label.Hide()
	}
}

// CaptionActive reports whether a caption is still being revealed
func (c *Controller) CaptionActive() bool {
	if c.surface == nil {
		return false
	}
	defer display.Guard(c.surface)()
	return c.caption.timer != nil
}
