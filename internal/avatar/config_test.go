package avatar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{IdleCycle: []IdleEntry{{Resource: "a", Duration: time.Second}}}.WithDefaults()

	assert.Equal(t, DefaultStartMargin, cfg.StartMargin)
	assert.Equal(t, DefaultAdvanceMargin, cfg.AdvanceMargin)
	assert.Equal(t, DefaultCaptionInterval, cfg.CaptionInterval)
	assert.Equal(t, CaptionRune, cfg.CaptionUnit)
}

func TestConfig_WithDefaultsCopiesCycle(t *testing.T) {
	cycle := []IdleEntry{{Resource: "a", Duration: time.Second}}
	cfg := Config{IdleCycle: cycle}.WithDefaults()
	cycle[0].Resource = "changed"

	assert.Equal(t, "a", cfg.IdleCycle[0].Resource)
}

func TestConfig_Validate(t *testing.T) {
	ok := IdleEntry{Resource: "a", Duration: time.Second}
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{IdleCycle: []IdleEntry{ok}}, true},
		{"empty cycle", Config{}, false},
		{"missing resource", Config{IdleCycle: []IdleEntry{{Duration: time.Second}}}, false},
		{"zero duration", Config{IdleCycle: []IdleEntry{{Resource: "a"}}}, false},
		{"negative margin", Config{IdleCycle: []IdleEntry{ok}, AdvanceMargin: -time.Second}, false},
		{"negative caption interval", Config{IdleCycle: []IdleEntry{ok}, CaptionInterval: -1}, false},
		{"unknown unit", Config{IdleCycle: []IdleEntry{ok}, CaptionUnit: "word"}, false},
		{"grapheme unit", Config{IdleCycle: []IdleEntry{ok}, CaptionUnit: CaptionGrapheme}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
