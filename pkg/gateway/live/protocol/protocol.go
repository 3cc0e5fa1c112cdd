// Package protocol defines the JSON frames exchanged with the tutoring frontend over /ws.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
)

// Client to server frame types.
const (
	TypeVoiceStart   = "VOICE_START"
	TypeVoiceAudio   = "VOICE_AUDIO"
	TypeVoiceEnd     = "VOICE_END"
	TypeTextMessage  = "TEXT_MESSAGE"
	TypeCanvasUpdate = "CANVAS_UPDATE"
	TypeCanvasChange = "CANVAS_CHANGE"
)

// Server to client frame types.
const (
	TypeVoiceState      = "VOICE_STATE"
	TypeVoiceTranscript = "VOICE_TRANSCRIPT"
	TypeCanvasCommand   = "CANVAS_COMMAND"
	TypeTutorStatus     = "TUTOR_STATUS"
	TypeError           = "ERROR"
)

// Error codes carried in ERROR frames.
const (
	CodeInvalidJSON  = "INVALID_JSON"
	CodeBadMessage   = "BAD_MESSAGE"
	CodeSessionError = "SESSION_ERROR"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeShuttingDown = "SHUTTING_DOWN"
)

type VoiceState string

const (
	VoiceIdle       VoiceState = "idle"
	VoiceListening  VoiceState = "listening"
	VoiceProcessing VoiceState = "processing"
	VoiceSpeaking   VoiceState = "speaking"
)

type TutorStatus string

const (
	StatusThinking TutorStatus = "thinking"
	StatusWatching TutorStatus = "watching"
	StatusDrawing  TutorStatus = "drawing"
)

// DecodeError is returned by DecodeClientMessage. Code is the ERROR frame code to report.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// UnknownTypeError reports a frame whose type is not part of the protocol.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.Type)
}

func invalidJSON(message string) *DecodeError {
	return &DecodeError{Code: CodeInvalidJSON, Message: message}
}

func badMessage(message string) *DecodeError {
	return &DecodeError{Code: CodeBadMessage, Message: message}
}

type VoiceStart struct {
	Type string `json:"type"`
}

type VoiceAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type VoiceEnd struct {
	Type string `json:"type"`
}

type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CanvasUpdate is a full canvas snapshot.
type CanvasUpdate struct {
	Type       string         `json:"type"`
	Shapes     []canvas.Shape `json:"shapes"`
	Summary    string         `json:"summary,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`
	Bounds     *canvas.Bounds `json:"bounds,omitempty"`
}

// Snapshot converts the frame to the stored canvas form.
func (u CanvasUpdate) Snapshot() canvas.Snapshot {
	return canvas.Snapshot{Shapes: u.Shapes, Summary: u.Summary, Screenshot: u.Screenshot, Bounds: u.Bounds}
}

// CanvasChange is an incremental canvas edit.
type CanvasChange struct {
	Type     string         `json:"type"`
	Added    []canvas.Shape `json:"added"`
	Modified []canvas.Shape `json:"modified"`
	Deleted  []string       `json:"deleted"`
}

// DecodeClientMessage parses one client frame. Malformed JSON yields a *DecodeError
// with CodeInvalidJSON; an unrecognized type yields *UnknownTypeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, invalidJSON("Failed to parse message")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badMessage("missing type")
	}

	switch typ {
	case TypeVoiceStart:
		return VoiceStart{Type: typ}, nil
	case TypeVoiceEnd:
		return VoiceEnd{Type: typ}, nil
	case TypeVoiceAudio:
		var msg VoiceAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidJSON("invalid VOICE_AUDIO frame")
		}
		return msg, nil
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidJSON("invalid TEXT_MESSAGE frame")
		}
		return msg, nil
	case TypeCanvasUpdate:
		var msg CanvasUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidJSON("invalid CANVAS_UPDATE frame")
		}
		if msg.Bounds != nil && (msg.Bounds.Width < 0 || msg.Bounds.Height < 0) {
			return nil, badMessage("bounds width and height must be >= 0")
		}
		return msg, nil
	case TypeCanvasChange:
		var msg CanvasChange
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidJSON("invalid CANVAS_CHANGE frame")
		}
		return msg, nil
	default:
		return nil, &UnknownTypeError{Type: typ}
	}
}

type ServerVoiceState struct {
	Type  string     `json:"type"`
	State VoiceState `json:"state"`
}

type ServerVoiceAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ServerTutorStatus struct {
	Type   string      `json:"type"`
	Status TutorStatus `json:"status"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerCanvasCommand struct {
	Type    string  `json:"type"`
	Command Command `json:"command"`
}

func NewVoiceState(s VoiceState) ServerVoiceState {
	return ServerVoiceState{Type: TypeVoiceState, State: s}
}

func NewVoiceAudio(audio string) ServerVoiceAudio {
	return ServerVoiceAudio{Type: TypeVoiceAudio, Audio: audio}
}

func NewTranscript(role, text string) ServerTranscript {
	return ServerTranscript{Type: TypeVoiceTranscript, Role: role, Text: text}
}

func NewTutorStatus(s TutorStatus) ServerTutorStatus {
	return ServerTutorStatus{Type: TypeTutorStatus, Status: s}
}

func NewError(code, message string) ServerError {
	return ServerError{Type: TypeError, Code: code, Message: message}
}

func NewCanvasCommand(cmd Command) ServerCanvasCommand {
	return ServerCanvasCommand{Type: TypeCanvasCommand, Command: cmd}
}
