package realtime

// 上游实时接口的事件类型
const (
	EventSessionUpdate             = "session.update"
	EventResponseCreate            = "response.create"
	EventInputAudioBufferCommitted = "input_audio_buffer.committed"
	EventInputTranscriptionDone    = "conversation.item.input_audio_transcription.completed"

	EventResponseDone                      = "response.done"
	EventResponseCompleted                 = "response.completed"
	EventResponseAudioDone                 = "response.audio.done"
	EventResponseOutputAudioDone           = "response.output_audio.done"
	EventResponseTextDone                  = "response.text.done"
	EventResponseOutputTextDone            = "response.output_text.done"
	EventResponseAudioTranscriptDone       = "response.audio_transcript.done"
	EventResponseOutputAudioTranscriptDone = "response.output_audio_transcript.done"
)

// 发送给浏览器的状态消息类型
const (
	ClientMessageError = "error"
	ClientMessageReady = "ready"
)

// ServerEvent holds the fields the bridge inspects on upstream events.
// Everything else in the payload is passed through untouched.
type ServerEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
}

// IsCompletion reports whether the event ends an outstanding generation.
func (e ServerEvent) IsCompletion() bool {
	switch e.Type {
	case EventResponseDone,
		EventResponseCompleted,
		EventResponseAudioDone,
		EventResponseOutputAudioDone,
		EventResponseTextDone,
		EventResponseOutputTextDone:
		return true
	}
	return false
}

// UserTranscript returns the transcribed user speech carried by the event.
func (e ServerEvent) UserTranscript() (string, bool) {
	if e.Type == EventInputTranscriptionDone {
		return e.Transcript, true
	}
	return "", false
}

// AssistantText returns completed assistant output carried by the event.
// A response emits text parts only when its modalities are text-only, and
// audio parts (with their transcript) otherwise, so one reply never yields
// both a text done and an audio transcript done event.
func (e ServerEvent) AssistantText() (string, bool) {
	switch e.Type {
	case EventResponseTextDone, EventResponseOutputTextDone:
		return e.Text, true
	case EventResponseAudioTranscriptDone, EventResponseOutputAudioTranscriptDone:
		return e.Transcript, true
	}
	return "", false
}

// ClientEvent is the minimal view of a browser text frame.
type ClientEvent struct {
	Type string `json:"type"`
}

// StatusMessage is sent by the bridge itself to the browser.
type StatusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
