// Package bridge connects the event bus to the avatar controller
package bridge

import (
	"sync"
	"time"

	"github.com/normanking/cortexface/internal/avatar"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/metrics"
	"github.com/normanking/cortexface/internal/timer"
	"github.com/rs/zerolog"
)

// Poster hands work to the dispatch loop
type Poster interface {
	Post(fn func()) bool
}

// Options tunes the bridge
type Options struct {
	// Linger keeps the speaking animation up after TTS stops. Zero returns
	// to idle at once.
	Linger  time.Duration
	Metrics *metrics.Recorder
}

// AvatarBridge turns device events into controller operations on the loop
// and republishes controller changes on the bus.
type AvatarBridge struct {
	controller *avatar.Controller
	loop       Poster
	scheduler  timer.Scheduler
	eventBus   *bus.EventBus
	opts       Options
	logger     zerolog.Logger

	// Touched only on the loop
	linger timer.Timer

	mu      sync.RWMutex
	emotion string
}

// NewAvatarBridge creates the avatar bridge
func NewAvatarBridge(controller *avatar.Controller, loop Poster, scheduler timer.Scheduler, eventBus *bus.EventBus, opts Options, logger zerolog.Logger) *AvatarBridge {
	return &AvatarBridge{
		controller: controller,
		loop:       loop,
		scheduler:  scheduler,
		eventBus:   eventBus,
		opts:       opts,
		logger:     logger.With().Str("component", "avatar_bridge").Logger(),
	}
}

// Bind installs the controller state handler and the bus subscriptions
func (b *AvatarBridge) Bind() {
	b.controller.SetStateHandler(b.onChange)

	handlers := map[bus.EventType]func(bus.Event){
		bus.EventTypeConnected:        b.onConnected,
		bus.EventTypeDisconnected:     b.onDisconnected,
		bus.EventTypeIdle:             func(bus.Event) { b.toIdle() },
		bus.EventTypeListeningStarted: b.onListeningStarted,
		bus.EventTypeListeningStopped: func(bus.Event) { b.toIdle() },
		bus.EventTypeSpeakingStarted:  b.onSpeakingStarted,
		bus.EventTypeSentence:         b.onSentence,
		bus.EventTypeSpeakingStopped:  b.onSpeakingStopped,
		bus.EventTypeTranscript:       b.onTranscript,
		bus.EventTypeEmotionChanged:   b.onEmotion,
		bus.EventTypeAssetChanged:     b.onAssetChanged,
	}
	for t, h := range handlers {
		b.eventBus.Subscribe(t, b.wrap(h))
	}
}

// wrap counts the event and moves the handler onto the loop
func (b *AvatarBridge) wrap(h func(bus.Event)) bus.Handler {
	return func(e bus.Event) {
		if b.opts.Metrics != nil {
			b.opts.Metrics.CountEvent(string(e.Type))
		}
		if !b.loop.Post(func() { h(e) }) {
			b.logger.Debug().Str("type", string(e.Type)).Msg("Loop stopped, dropping event")
		}
	}
}

// Emotion returns the last emotion reported by the server
func (b *AvatarBridge) Emotion() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.emotion
}

func (b *AvatarBridge) onConnected(bus.Event) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.SetConnected(true)
	}
	b.toIdle()
}

func (b *AvatarBridge) onDisconnected(e bus.Event) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.SetConnected(false)
	}
	b.logger.Info().Str("error", e.String(bus.KeyError)).Msg("Session lost, returning to idle")
	b.toIdle()
}

func (b *AvatarBridge) onListeningStarted(bus.Event) {
	b.cancelLinger()
	b.controller.ShowListeningAnimation()
}

func (b *AvatarBridge) onSpeakingStarted(bus.Event) {
	b.cancelLinger()
	b.controller.ShowSpeakingAnimation()
}

func (b *AvatarBridge) onSentence(e bus.Event) {
	b.controller.ShowSpeakingText(e.String(bus.KeyText))
}

func (b *AvatarBridge) onSpeakingStopped(bus.Event) {
	if b.opts.Linger <= 0 {
		b.toIdle()
		return
	}

	b.cancelLinger()
	t, err := b.scheduler.NewOneShot(b.opts.Linger, b.onLingerDone)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to start linger timer")
		b.toIdle()
		return
	}
	b.linger = t
}

func (b *AvatarBridge) onLingerDone(t timer.Timer) {
	if t != b.linger {
		return
	}
	b.linger = nil
	b.controller.StartLoop()
}

func (b *AvatarBridge) onTranscript(e bus.Event) {
	b.logger.Debug().Str("text", e.String(bus.KeyText)).Msg("User said")
}

func (b *AvatarBridge) onEmotion(e bus.Event) {
	emotion := e.String(bus.KeyEmotion)
	b.mu.Lock()
	b.emotion = emotion
	b.mu.Unlock()
	b.logger.Debug().Str("emotion", emotion).Msg("Emotion changed")
}

func (b *AvatarBridge) onAssetChanged(e bus.Event) {
	resource := e.String(bus.KeyResource)
	if e.Bool(bus.KeyRemoved) {
		b.logger.Warn().Str("resource", resource).Msg("Animation removed from disk")
		return
	}
	n := b.controller.ReloadResource(resource)
	b.logger.Info().Str("resource", resource).Int("slots", n).Msg("Animation changed on disk")
}

func (b *AvatarBridge) toIdle() {
	b.cancelLinger()
	b.controller.StartLoop()
}

func (b *AvatarBridge) cancelLinger() {
	if b.linger != nil {
		b.linger.Delete()
		b.linger = nil
	}
}

// onChange runs on the loop, outside the display lock
func (b *AvatarBridge) onChange(ch avatar.Change) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.Observe(ch)
	}
	b.eventBus.Publish(bus.Event{
		Type: bus.EventTypeAvatarStateChanged,
		Data: map[string]any{
			bus.KeyReason: string(ch.Reason),
			bus.KeyState:  ch.State,
		},
	})
}
