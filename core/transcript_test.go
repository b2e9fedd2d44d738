package session

import (
	"testing"
	"time"
)

func TestFinalizeMessagePrefersAuthoritativeText(t *testing.T) {
	state := newSessionState()
	state = state.appendDelta(SpeakerUser, "what time is")

	state, message := state.finalizeMessage(SpeakerUser, "What time is it?", time.Now())
	if message == nil {
		t.Fatalf("expected a finalized message")
	}
	if message.Text != "What time is it?" {
		t.Fatalf("expected authoritative text, got %q", message.Text)
	}
	if state.userBuffer != "" {
		t.Fatalf("expected buffer cleared, got %q", state.userBuffer)
	}
}

func TestFinalizeMessageSkipsEmptyText(t *testing.T) {
	state := newSessionState()

	state, message := state.finalizeMessage(SpeakerAssistant, "", time.Now())
	if message != nil {
		t.Fatalf("expected no message for empty text, got %+v", message)
	}
	if len(state.messages) != 0 {
		t.Fatalf("expected no appended message, got %d", len(state.messages))
	}
}

func TestFinalizeAssistantAbsorbsPendingInvocations(t *testing.T) {
	invocation := ToolInvocation{ID: "call_1", Tool: "get_weather", Result: `{"temp":21}`}

	state := newSessionState()
	state.pendingInvocations = []ToolInvocation{invocation}
	state = state.appendDelta(SpeakerAssistant, "It is 21 degrees.")

	state, message := state.finalizeMessage(SpeakerAssistant, "", time.Now())
	if message == nil {
		t.Fatalf("expected a finalized message")
	}
	if len(message.ToolCalls) != 1 || message.ToolCalls[0].ID != "call_1" {
		t.Fatalf("expected the pending invocation attached, got %+v", message.ToolCalls)
	}
	if len(state.pendingInvocations) != 0 {
		t.Fatalf("expected pending invocations drained, got %d", len(state.pendingInvocations))
	}
}

func TestAttachToolCallBackPatchesMostRecentAssistantMessage(t *testing.T) {
	state := newSessionState()
	state = state.appendDelta(SpeakerAssistant, "Checking the weather.")
	state, _ = state.finalizeMessage(SpeakerAssistant, "", time.Now())
	state = state.appendDelta(SpeakerUser, "thanks")
	state, _ = state.finalizeMessage(SpeakerUser, "", time.Now())

	invocation := ToolInvocation{ID: "call_9", Tool: "get_weather"}
	state, attached := state.attachToolCall(invocation)
	if !attached {
		t.Fatalf("expected the invocation to attach")
	}

	assistant := state.messages[0]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_9" {
		t.Fatalf("expected the assistant message annotated, got %+v", assistant.ToolCalls)
	}
	if len(state.messages[1].ToolCalls) != 0 {
		t.Fatalf("expected the user message untouched")
	}
}

func TestAttachToolCallReportsNoTarget(t *testing.T) {
	state := newSessionState()
	state = state.appendDelta(SpeakerUser, "hello")
	state, _ = state.finalizeMessage(SpeakerUser, "", time.Now())

	_, attached := state.attachToolCall(ToolInvocation{ID: "call_1"})
	if attached {
		t.Fatalf("expected no attach target among user-only messages")
	}
}

func TestAttachToolCallDoesNotMutateSharedSlice(t *testing.T) {
	state := newSessionState()
	state = state.appendDelta(SpeakerAssistant, "done")
	state, _ = state.finalizeMessage(SpeakerAssistant, "", time.Now())

	snapshot := state.messages
	state, _ = state.attachToolCall(ToolInvocation{ID: "call_4"})

	if len(snapshot[0].ToolCalls) != 0 {
		t.Fatalf("expected the pre-attach slice untouched, got %+v", snapshot[0].ToolCalls)
	}
	if len(state.messages[0].ToolCalls) != 1 {
		t.Fatalf("expected the successor state annotated")
	}
}

func TestClearTranscriptKeepsMode(t *testing.T) {
	state := newSessionState()
	state.mode = ModeSpeaking
	state = state.appendDelta(SpeakerAssistant, "partial")
	state, _ = state.finalizeMessage(SpeakerAssistant, "", time.Now())

	state = state.clearTranscript()
	if len(state.messages) != 0 || state.userBuffer != "" || state.assistantBuffer != "" {
		t.Fatalf("expected an empty transcript, got %+v", state)
	}
	if state.mode != ModeSpeaking {
		t.Fatalf("expected mode untouched, got %s", state.mode)
	}
}

func TestTranscriptTimestampsAreMonotonic(t *testing.T) {
	state := newSessionState()
	base := time.Now()

	state = state.appendDelta(SpeakerUser, "first")
	state, _ = state.finalizeMessage(SpeakerUser, "", base)
	state = state.appendDelta(SpeakerAssistant, "second")
	state, _ = state.finalizeMessage(SpeakerAssistant, "", base.Add(time.Second))

	if state.messages[1].Timestamp.Before(state.messages[0].Timestamp) {
		t.Fatalf("expected append order to follow time order")
	}
	if state.messages[0].ID == state.messages[1].ID {
		t.Fatalf("expected unique message ids")
	}
}
