package realtime

// SessionConfig 上游会话参数，随 session.update 一次性发送
type SessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionModel `json:"input_audio_transcription,omitempty"`
	Temperature             float64             `json:"temperature"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens"`
}

// TranscriptionModel selects the model used to transcribe user audio.
type TranscriptionModel struct {
	Model string `json:"model"`
}

// SessionUpdate wraps SessionConfig in its event envelope.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// ResponseCreate asks upstream to generate a reply for the buffered input.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response ResponseOptions `json:"response"`
}

// ResponseOptions carries per-response overrides.
type ResponseOptions struct {
	Modalities []string `json:"modalities"`
}

// DefaultModalities is requested both for the session and each response.
var DefaultModalities = []string{"text", "audio"}

// NewResponseCreate builds the request sent when auto-advancing a turn.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{
		Type:     EventResponseCreate,
		Response: ResponseOptions{Modalities: append([]string(nil), DefaultModalities...)},
	}
}
