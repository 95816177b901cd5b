package session

// Message types of the device protocol
const (
	TypeHello  = "hello"
	TypeListen = "listen"
	TypeAbort  = "abort"
	TypeTTS    = "tts"
	TypeSTT    = "stt"
	TypeLLM    = "llm"
)

// TTS states sent by the server
const (
	TTSStart         = "start"
	TTSStop          = "stop"
	TTSSentenceStart = "sentence_start"
)

// ListenState is the device's microphone state
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

// ListenMode says how listening ends
type ListenMode string

const (
	ModeAuto     ListenMode = "auto"
	ModeManual   ListenMode = "manual"
	ModeRealtime ListenMode = "realtime"
)

// AudioParams declares the device's audio stream
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// ClientHello opens every session
type ClientHello struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// ListenMessage reports microphone state changes to the server
type ListenMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     ListenState `json:"state"`
	Mode      ListenMode  `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// AbortMessage cancels the current reply
type AbortMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ServerMessage is the union of every server-to-device message
type ServerMessage struct {
	Type      string `json:"type"`
	Transport string `json:"transport,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Text      string `json:"text,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
}

func defaultAudioParams() AudioParams {
	return AudioParams{
		Format:        "opus",
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 60,
	}
}
