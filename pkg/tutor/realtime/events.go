// Package realtime is a client for the xAI realtime voice API. It performs the session
// handshake itself and delivers server events on a channel.
package realtime

import "encoding/json"

// Event is a server event surfaced to the session. The set is closed.
type Event interface {
	isEvent()
}

// Ready is emitted once the session configuration was acknowledged.
type Ready struct{}

type SpeechStarted struct{}

type SpeechStopped struct{}

// Transcript is a completed utterance. Role is RoleStudent or RoleTutor.
type Transcript struct {
	Role string
	Text string
}

type ResponseStarted struct{}

type ResponseDone struct{}

// AudioDelta carries base64 PCM16 audio from the model.
type AudioDelta struct {
	Audio string
}

// FunctionCall is a tool invocation whose arguments have been fully received.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Error is an error event reported by the server.
type Error struct {
	Code    string
	Message string
}

func (Ready) isEvent()           {}
func (SpeechStarted) isEvent()   {}
func (SpeechStopped) isEvent()   {}
func (Transcript) isEvent()      {}
func (ResponseStarted) isEvent() {}
func (ResponseDone) isEvent()    {}
func (AudioDelta) isEvent()      {}
func (FunctionCall) isEvent()    {}
func (Error) isEvent()           {}

const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
)

// Wire event types.
const (
	typeConversationCreated  = "conversation.created"
	typeSessionUpdate        = "session.update"
	typeSessionUpdated       = "session.updated"
	typeSpeechStarted        = "input_audio_buffer.speech_started"
	typeSpeechStopped        = "input_audio_buffer.speech_stopped"
	typeAudioAppend          = "input_audio_buffer.append"
	typeAudioCommit          = "input_audio_buffer.commit"
	typeAudioClear           = "input_audio_buffer.clear"
	typeInputTranscription   = "conversation.item.input_audio_transcription.completed"
	typeItemCreate           = "conversation.item.create"
	typeResponseCreate       = "response.create"
	typeResponseCancel       = "response.cancel"
	typeResponseCreated      = "response.created"
	typeResponseDone         = "response.done"
	typeAudioDelta           = "response.output_audio.delta"
	typeAudioTranscriptDelta = "response.output_audio_transcript.delta"
	typeAudioTranscriptDone  = "response.output_audio_transcript.done"
	typeOutputItemAdded      = "response.output_item.added"
	typeFunctionArgsDelta    = "response.function_call_arguments.delta"
	typeFunctionArgsDone     = "response.function_call_arguments.done"
	typeError                = "error"
)

type serverMessage struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Item       *struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate"`
}

type audioConfig struct {
	Input  audioDirection `json:"input"`
	Output audioDirection `json:"output"`
}

type audioDirection struct {
	Format audioFormat `json:"format"`
}

type sessionConfig struct {
	Instructions       string      `json:"instructions"`
	Voice              string      `json:"voice"`
	Audio              audioConfig `json:"audio"`
	TurnDetection      typed       `json:"turn_detection"`
	InputTranscription modelRef    `json:"input_audio_transcription"`
	Tools              any         `json:"tools,omitempty"`
}

type typed struct {
	Type string `json:"type"`
}

type modelRef struct {
	Model string `json:"model"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}
