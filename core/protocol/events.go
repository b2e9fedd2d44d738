// Package protocol defines the control-event wire contract spoken over the
// realtime data channel.
//
// Every control event, inbound or outbound, is a JSON object with a "type"
// discriminator. Inbound events decode into the flat ServerEvent envelope;
// outbound events are small typed structs implementing ClientEvent.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire event type string.
type Kind string

// Inbound event kinds.
const (
	KindSessionCreated         Kind = "session.created"
	KindSpeechStarted          Kind = "input_audio_buffer.speech_started"
	KindSpeechStopped          Kind = "input_audio_buffer.speech_stopped"
	KindTranscriptionDelta     Kind = "conversation.item.input_audio_transcription.delta"
	KindTranscriptionCompleted Kind = "conversation.item.input_audio_transcription.completed"
	KindFunctionCallDelta      Kind = "response.function_call_delta"
	KindFunctionCallDone       Kind = "response.function_call_done"
	KindAudioDelta             Kind = "response.audio.delta"
	KindAudioTranscriptDelta   Kind = "response.audio_transcript.delta"
	KindAudioTranscriptDone    Kind = "response.audio_transcript.done"
	KindTextDelta              Kind = "response.text.delta"
	KindTextDone               Kind = "response.text.done"
	KindResponseDone           Kind = "response.done"
	KindResponseCancelled      Kind = "response.cancelled"
	KindError                  Kind = "error"
)

// Outbound event kinds.
const (
	KindSessionUpdate    Kind = "session.update"
	KindItemCreate       Kind = "conversation.item.create"
	KindResponseCreate   Kind = "response.create"
	KindInputAudioAppend Kind = "input_audio_buffer.append"
)

// ServerEvent is a single decoded inbound control event. The remote endpoint
// uses a flat envelope; fields that do not apply to a given kind are left
// zero.
type ServerEvent struct {
	Type    Kind   `json:"type"`
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`

	// Delta carries the incremental fragment for *.delta kinds.
	Delta string `json:"delta,omitempty"`
	// Text is the authoritative full text for response.text.done.
	Text string `json:"text,omitempty"`
	// Transcript is the authoritative full transcript for
	// response.audio_transcript.done and transcription.completed.
	Transcript string `json:"transcript,omitempty"`

	// CallID, Name and Arguments describe a function call for the
	// response.function_call_* kinds.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Response *Response    `json:"response,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`

	Session json.RawMessage `json:"session,omitempty"`
}

// Response is the terminal response payload attached to response.done.
type Response struct {
	ID     string         `json:"id,omitempty"`
	Status string         `json:"status,omitempty"`
	Output []ResponseItem `json:"output,omitempty"`
}

// ResponseItem is one output item of a completed response.
type ResponseItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Content   []ItemContent `json:"content,omitempty"`
}

// FunctionCalls returns the function-call output items of the response, if
// any. A response carrying one means the model is waiting on a tool result
// before it can continue.
func (r *Response) FunctionCalls() []ResponseItem {
	if r == nil {
		return nil
	}

	var calls []ResponseItem
	for _, item := range r.Output {
		if item.Type == "function_call" {
			calls = append(calls, item)
		}
	}
	return calls
}

// ErrorDetail is the error payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Decode parses a raw control event. Events without a type discriminator are
// rejected as malformed; unknown type strings decode fine and are left to the
// consumer to skip, so newer endpoint versions do not break older clients.
func Decode(raw []byte) (ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ServerEvent{}, fmt.Errorf("failed to unmarshal control event: %w", err)
	}

	if event.Type == "" {
		return ServerEvent{}, fmt.Errorf("control event is missing a type discriminator")
	}

	return event, nil
}
