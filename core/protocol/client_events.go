package protocol

import "encoding/json"

// ClientEvent is an outbound control event. Implementations marshal directly
// to their wire shape.
type ClientEvent interface {
	Kind() Kind
}

// SessionUpdate configures the live session. Sent once per connection, after
// the control channel opens.
type SessionUpdate struct {
	Type    Kind          `json:"type"`
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(session SessionConfig) SessionUpdate {
	return SessionUpdate{Type: KindSessionUpdate, Session: session}
}

func (e SessionUpdate) Kind() Kind { return e.Type }

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	Modalities              []string           `json:"modalities,omitempty"`
	InputAudioTranscription *TranscriptionOpts `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection     `json:"turn_detection,omitempty"`
	Tools                   []ToolDeclaration  `json:"tools,omitempty"`
}

// TranscriptionOpts selects the model used to transcribe user audio.
type TranscriptionOpts struct {
	Model string `json:"model"`
}

// TurnDetection tunes the endpoint's server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ToolDeclaration advertises one callable tool to the remote model.
type ToolDeclaration struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ItemCreate appends an item to the remote conversation: either typed user
// text or the output of a completed function call.
type ItemCreate struct {
	Type Kind             `json:"type"`
	Item ConversationItem `json:"item"`
}

func (e ItemCreate) Kind() Kind { return e.Type }

// ConversationItem is the inner item object of conversation.item.create.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []ItemContent `json:"content,omitempty"`
}

// ItemContent is one content part of a conversation item.
type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewUserTextItem wraps typed user input as a conversation item.
func NewUserTextItem(text string) ItemCreate {
	return ItemCreate{
		Type: KindItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ItemContent{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionCallOutputItem wraps a tool result, correlated to the call that
// requested it.
func NewFunctionCallOutputItem(callID, output string) ItemCreate {
	return ItemCreate{
		Type: KindItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreate asks the remote endpoint to produce a new model turn.
type ResponseCreate struct {
	Type Kind `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: KindResponseCreate}
}

func (e ResponseCreate) Kind() Kind { return e.Type }

// InputAudioAppend streams one base64-encoded capture frame to the endpoint.
// Only used by transports without a dedicated media path.
type InputAudioAppend struct {
	Type  Kind   `json:"type"`
	Audio string `json:"audio"`
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: KindInputAudioAppend, Audio: audio}
}

func (e InputAudioAppend) Kind() Kind { return e.Type }

// Encode marshals a client event to its wire form.
func Encode(event ClientEvent) ([]byte, error) {
	return json.Marshal(event)
}
