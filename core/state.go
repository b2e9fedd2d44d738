package session

import (
	"time"

	"github.com/chorus-voice/chorus-core/core/transport"
)

// ConnectionStatus mirrors the transport lifecycle. It only ever changes
// through transport lifecycle calls, never directly.
type ConnectionStatus = transport.Status

const (
	StatusDisconnected = transport.StatusDisconnected
	StatusConnecting   = transport.StatusConnecting
	StatusConnected    = transport.StatusConnected
)

// AssistantMode is what the assistant is doing right now. It is derived
// purely from inbound control events; nothing else ever sets it.
type AssistantMode string

const (
	ModeIdle       AssistantMode = "idle"
	ModeListening  AssistantMode = "listening"
	ModeSpeaking   AssistantMode = "speaking"
	ModeProcessing AssistantMode = "processing"
)

// Speaker identifies a transcript message's side of the conversation.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Config describes one session. StartTime is set when the control channel
// opens and cleared on disconnect.
type Config struct {
	Voice      string
	Language   string
	Model      string
	Transport  transport.Kind
	StartTime  *time.Time
	WakePhrase string
}

// RecentEvent is one entry of the bounded raw-event log. Purely
// observational; nothing consults it for control decisions.
type RecentEvent struct {
	Name string
	Time time.Time
}

// recentEventLimit bounds the observational log.
const recentEventLimit = 10

// now is a seam for deterministic reducer tests.
var now = time.Now

// ToolInvocation is one function call requested by the remote model. Created
// when a call is observed, its Result set exactly once when the round-trip
// completes, immutable after that.
type ToolInvocation struct {
	ID        string
	Tool      string
	Arguments map[string]any
	Result    string
	Timestamp time.Time
}

// TranscriptMessage is one finalized conversation message. The message list
// is append-only and monotonic in time; a message is never rewritten once
// IsComplete is set.
type TranscriptMessage struct {
	ID         string
	Speaker    Speaker
	Text       string
	Timestamp  time.Time
	ToolCalls  []ToolInvocation
	IsComplete bool
}

// pendingToolCall tracks an in-flight function call announced by streamed
// deltas before its done event arrives.
type pendingToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// sessionState is the dispatcher's reducer state. It is a value type on
// purpose: reduce takes it by value and returns the successor, so the state
// machine is testable with no transport attached.
type sessionState struct {
	mode AssistantMode

	// userBuffer and assistantBuffer accumulate streamed transcript deltas
	// until a finalizing event fires.
	userBuffer      string
	assistantBuffer string

	// pendingTool marks a function call being streamed; cleared by its done
	// event or by the next speech start.
	pendingTool *pendingToolCall
	// awaitingToolResults counts tool round-trips the model is blocked on.
	// While positive, assistant finalization is deferred (the tie-break
	// rule: natural-language content often depends on the tool result).
	awaitingToolResults int
	// executedCallIDs guarantees at most one invocation per call_id even if
	// both function_call_done and response.done reference the same call.
	executedCallIDs map[string]bool
	// pendingInvocations are completed tool calls waiting for an assistant
	// message to attach to.
	pendingInvocations []ToolInvocation

	messages []TranscriptMessage
	recent   []RecentEvent
}

func newSessionState() sessionState {
	return sessionState{
		mode:            ModeIdle,
		executedCallIDs: map[string]bool{},
	}
}

// recordEvent prepends to the most-recent-first observational log, keeping it
// bounded.
func (s sessionState) recordEvent(name string, at time.Time) sessionState {
	recent := make([]RecentEvent, 0, recentEventLimit)
	recent = append(recent, RecentEvent{Name: name, Time: at})
	if len(s.recent) >= recentEventLimit {
		recent = append(recent, s.recent[:recentEventLimit-1]...)
	} else {
		recent = append(recent, s.recent...)
	}
	s.recent = recent
	return s
}
