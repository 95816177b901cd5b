package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/normanking/cortexface/internal/avatar"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_Transitions(t *testing.T) {
	r := New()

	r.Observe(avatar.Change{Reason: avatar.ReasonTransition, State: avatar.State{Active: avatar.SlotIdle}})
	r.Observe(avatar.Change{Reason: avatar.ReasonTransition, State: avatar.State{Active: avatar.SlotSpeaking}})
	r.Observe(avatar.Change{Reason: avatar.ReasonTransition, State: avatar.State{Active: avatar.SlotIdle}})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Transitions.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Transitions.WithLabelValues("speaking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveSlot.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveSlot.WithLabelValues("speaking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveSlot.WithLabelValues("listening")))
}

func TestObserve_AdvanceAndCaption(t *testing.T) {
	r := New()

	r.Observe(avatar.Change{Reason: avatar.ReasonAdvance, State: avatar.State{IdleSource: "game"}})
	r.Observe(avatar.Change{Reason: avatar.ReasonCaptionStart})
	r.Observe(avatar.Change{Reason: avatar.ReasonCaptionStep})
	r.Observe(avatar.Change{Reason: avatar.ReasonCaptionDone})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.IdleAdvances.WithLabelValues("game")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Captions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CaptionUnits))
}

func TestSetConnectedAndEvents(t *testing.T) {
	r := New()
	r.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SessionConnected))
	r.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.SessionConnected))

	r.CountEvent("tts.sentence")
	r.CountEvent("tts.sentence")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Events.WithLabelValues("tts.sentence")))
}

func TestHandler(t *testing.T) {
	r := New()
	r.Observe(avatar.Change{Reason: avatar.ReasonCaptionStart})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cortexface_avatar_captions_total 1")
}
