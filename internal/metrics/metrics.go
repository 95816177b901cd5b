package metrics

import (
	"net/http"

	"github.com/normanking/cortexface/internal/avatar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var slots = []avatar.Slot{avatar.SlotIdle, avatar.SlotListening, avatar.SlotSpeaking}

// Recorder holds the avatar metrics on their own registry
type Recorder struct {
	registry *prometheus.Registry

	Transitions      *prometheus.CounterVec
	IdleAdvances     *prometheus.CounterVec
	Captions         prometheus.Counter
	CaptionUnits     prometheus.Counter
	ActiveSlot       *prometheus.GaugeVec
	SessionConnected prometheus.Gauge
	Events           *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexface_avatar_transitions_total",
				Help: "Slot transitions by destination slot",
			},
			[]string{"slot"},
		),
		IdleAdvances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexface_avatar_idle_advances_total",
				Help: "Idle animations loaded by resource",
			},
			[]string{"resource"},
		),
		Captions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cortexface_avatar_captions_total",
				Help: "Captions started",
			},
		),
		CaptionUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cortexface_avatar_caption_units_total",
				Help: "Caption characters revealed",
			},
		),
		ActiveSlot: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortexface_avatar_active_slot",
				Help: "1 for the visible slot, 0 otherwise",
			},
			[]string{"slot"},
		),
		SessionConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortexface_session_connected",
				Help: "1 while the device session is up",
			},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortexface_bus_events_total",
				Help: "Bus events handled by type",
			},
			[]string{"type"},
		),
	}
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records one controller change
func (r *Recorder) Observe(ch avatar.Change) {
	switch ch.Reason {
	case avatar.ReasonTransition:
		r.Transitions.WithLabelValues(string(ch.State.Active)).Inc()
		for _, s := range slots {
			v := 0.0
			if s == ch.State.Active {
				v = 1
			}
			r.ActiveSlot.WithLabelValues(string(s)).Set(v)
		}
	case avatar.ReasonAdvance:
		r.IdleAdvances.WithLabelValues(ch.State.IdleSource).Inc()
	case avatar.ReasonCaptionStart:
		r.Captions.Inc()
	case avatar.ReasonCaptionStep, avatar.ReasonCaptionDone:
		r.CaptionUnits.Inc()
	}
}

// SetConnected records the session state
func (r *Recorder) SetConnected(up bool) {
	if up {
		r.SessionConnected.Set(1)
	} else {
		r.SessionConnected.Set(0)
	}
}

// CountEvent records one handled bus event
func (r *Recorder) CountEvent(eventType string) {
	r.Events.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
