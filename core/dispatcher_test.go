package session

import (
	"errors"
	"testing"

	"github.com/chorus-voice/chorus-core/core/protocol"
)

func reduceAll(t *testing.T, state sessionState, events ...protocol.ServerEvent) (sessionState, []effect) {
	t.Helper()

	var all []effect
	for _, event := range events {
		var effects []effect
		state, effects = reduce(state, event)
		all = append(all, effects...)
	}
	return state, all
}

func TestSpeechLifecycleModeTransitions(t *testing.T) {
	state := newSessionState()

	state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindSpeechStarted})
	if state.mode != ModeListening {
		t.Fatalf("expected listening after speech start, got %s", state.mode)
	}

	state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindSpeechStopped})
	if state.mode != ModeProcessing {
		t.Fatalf("expected processing after speech stop, got %s", state.mode)
	}

	state, effects := reduce(state, protocol.ServerEvent{Type: protocol.KindAudioDelta, Delta: "UklGRg=="})
	if state.mode != ModeSpeaking {
		t.Fatalf("expected speaking during audio delta, got %s", state.mode)
	}
	if len(effects) != 1 {
		t.Fatalf("expected one playback effect, got %d effects", len(effects))
	}
	if _, ok := effects[0].(playAudioEffect); !ok {
		t.Fatalf("expected playAudioEffect, got %T", effects[0])
	}

	state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindResponseDone})
	if state.mode != ModeListening {
		t.Fatalf("expected listening after response done, got %s", state.mode)
	}
}

func TestUnknownEventKindOnlyRecords(t *testing.T) {
	state := newSessionState()
	state.mode = ModeSpeaking

	next, effects := reduce(state, protocol.ServerEvent{Type: "rate_limits.updated"})
	if len(effects) != 0 {
		t.Fatalf("expected no effects for unknown kind, got %d", len(effects))
	}
	if next.mode != ModeSpeaking {
		t.Fatalf("expected mode unchanged, got %s", next.mode)
	}
	if len(next.recent) != 1 || next.recent[0].Name != "rate_limits.updated" {
		t.Fatalf("expected unknown kind in the recent log, got %+v", next.recent)
	}
}

func TestSessionCreatedRequestsConfiguration(t *testing.T) {
	_, effects := reduce(newSessionState(), protocol.ServerEvent{Type: protocol.KindSessionCreated})
	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	if _, ok := effects[0].(configureSessionEffect); !ok {
		t.Fatalf("expected configureSessionEffect, got %T", effects[0])
	}
}

func TestAssistantDeltasAccumulateAndFinalize(t *testing.T) {
	state, effects := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: "It is "},
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: "sunny."},
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDone, Transcript: "It is sunny."},
	)

	if len(state.messages) != 1 {
		t.Fatalf("expected one finalized message, got %d", len(state.messages))
	}
	message := state.messages[0]
	if message.Speaker != SpeakerAssistant || message.Text != "It is sunny." || !message.IsComplete {
		t.Fatalf("unexpected finalized message: %+v", message)
	}
	if state.assistantBuffer != "" {
		t.Fatalf("expected assistant buffer cleared, got %q", state.assistantBuffer)
	}
	if state.mode != ModeListening {
		t.Fatalf("expected listening after finalization, got %s", state.mode)
	}

	finalized := 0
	for _, e := range effects {
		if _, ok := e.(messageFinalizedEffect); ok {
			finalized++
		}
	}
	if finalized != 1 {
		t.Fatalf("expected exactly one finalization effect, got %d", finalized)
	}
}

func TestAuthoritativeTranscriptWinsOverDeltas(t *testing.T) {
	state, _ := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: "sunny. It is "},
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDone, Transcript: "It is sunny."},
	)

	if got := state.messages[0].Text; got != "It is sunny." {
		t.Fatalf("expected authoritative transcript to win, got %q", got)
	}
}

func TestFunctionCallDefersAssistantFinalization(t *testing.T) {
	state, effects := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindFunctionCallDelta, CallID: "call_1", Name: "get_weather", Delta: `{"location":`},
		protocol.ServerEvent{Type: protocol.KindFunctionCallDelta, CallID: "call_1", Delta: `"Paris"}`},
		protocol.ServerEvent{Type: protocol.KindFunctionCallDone, CallID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDone, Transcript: "Let me check."},
	)

	var calls []executeToolEffect
	for _, e := range effects {
		if call, ok := e.(executeToolEffect); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("expected one tool execution, got %d", len(calls))
	}
	if calls[0].callID != "call_1" || calls[0].name != "get_weather" || calls[0].arguments != `{"location":"Paris"}` {
		t.Fatalf("unexpected tool call: %+v", calls[0])
	}

	if len(state.messages) != 0 {
		t.Fatalf("expected finalization deferred while a tool round-trip is pending, got %d messages", len(state.messages))
	}
	if state.mode != ModeProcessing {
		t.Fatalf("expected processing while awaiting tool result, got %s", state.mode)
	}
	if state.assistantBuffer != "Let me check." {
		t.Fatalf("expected buffered text retained, got %q", state.assistantBuffer)
	}
}

func TestDuplicateCallIDExecutesOnce(t *testing.T) {
	state, effects := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindFunctionCallDone, CallID: "call_7", Name: "get_time", Arguments: `{}`},
		protocol.ServerEvent{Type: protocol.KindResponseDone, Response: &protocol.Response{
			Output: []protocol.ResponseItem{
				{Type: "function_call", CallID: "call_7", Name: "get_time", Arguments: `{}`},
			},
		}},
	)

	calls := 0
	for _, e := range effects {
		if _, ok := e.(executeToolEffect); ok {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("expected a duplicated call_id to execute once, got %d executions", calls)
	}
	if state.mode != ModeProcessing {
		t.Fatalf("expected processing while the deduplicated call is outstanding, got %s", state.mode)
	}
}

func TestResponseDoneKeepsProcessingWhileToolOutstanding(t *testing.T) {
	// The normal flow: function_call_done dispatches the call, then
	// response.done lists the same call and the dedup skips it. The model is
	// still blocked on the result, so the turn has not ended.
	state, _ := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindFunctionCallDone, CallID: "call_1", Name: "get_weather", Arguments: `{"location":"Austin"}`},
		protocol.ServerEvent{Type: protocol.KindResponseDone, Response: &protocol.Response{
			Output: []protocol.ResponseItem{
				{Type: "function_call", CallID: "call_1", Name: "get_weather", Arguments: `{"location":"Austin"}`},
			},
		}},
	)

	if state.awaitingToolResults != 1 {
		t.Fatalf("expected one outstanding tool round-trip, got %d", state.awaitingToolResults)
	}
	if state.mode != ModeProcessing {
		t.Fatalf("expected processing while the tool round-trip is outstanding, got %s", state.mode)
	}
}

func TestResponseDoneSurfacesUnstreamedFunctionCall(t *testing.T) {
	state, effects := reduce(newSessionState(), protocol.ServerEvent{
		Type: protocol.KindResponseDone,
		Response: &protocol.Response{
			Output: []protocol.ResponseItem{
				{Type: "message", Role: "assistant"},
				{Type: "function_call", CallID: "call_2", Name: "web_search", Arguments: `{"query":"go"}`},
			},
		},
	})

	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	call, ok := effects[0].(executeToolEffect)
	if !ok {
		t.Fatalf("expected executeToolEffect, got %T", effects[0])
	}
	if call.callID != "call_2" || call.name != "web_search" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if state.mode != ModeProcessing {
		t.Fatalf("expected processing while the tool runs, got %s", state.mode)
	}
}

func TestResponseCancelledFinalizesPartialText(t *testing.T) {
	state, effects := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: "The capital of France"},
		protocol.ServerEvent{Type: protocol.KindResponseCancelled},
	)

	if state.mode != ModeListening {
		t.Fatalf("expected listening after cancellation, got %s", state.mode)
	}
	if len(state.messages) != 1 {
		t.Fatalf("expected the partial text preserved as a message, got %d messages", len(state.messages))
	}
	if got := state.messages[0].Text; got != "The capital of France" {
		t.Fatalf("unexpected preserved text %q", got)
	}

	found := false
	for _, e := range effects {
		if _, ok := e.(messageFinalizedEffect); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a finalization effect for the interrupted message")
	}
}

func TestTranscriptionCompletedFinalizesUserMessage(t *testing.T) {
	state, _ := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindTranscriptionDelta, Delta: "what is the "},
		protocol.ServerEvent{Type: protocol.KindTranscriptionCompleted, Transcript: "What is the weather?"},
	)

	if len(state.messages) != 1 {
		t.Fatalf("expected one user message, got %d", len(state.messages))
	}
	message := state.messages[0]
	if message.Speaker != SpeakerUser || message.Text != "What is the weather?" {
		t.Fatalf("unexpected user message: %+v", message)
	}
	if state.userBuffer != "" {
		t.Fatalf("expected user buffer cleared, got %q", state.userBuffer)
	}
}

func TestStopPhraseRequestsDisconnect(t *testing.T) {
	_, effects := reduce(newSessionState(), protocol.ServerEvent{
		Type:       protocol.KindTranscriptionCompleted,
		Transcript: "Okay, goodbye!",
	})

	found := false
	for _, e := range effects {
		if disconnect, ok := e.(disconnectEffect); ok {
			found = true
			if disconnect.phrase != "goodbye" {
				t.Fatalf("expected matched phrase %q, got %q", "goodbye", disconnect.phrase)
			}
		}
	}
	if !found {
		t.Fatalf("expected a disconnect effect for a stop phrase")
	}
}

func TestStopPhraseRequiresWordBoundary(t *testing.T) {
	_, effects := reduce(newSessionState(), protocol.ServerEvent{
		Type:       protocol.KindTranscriptionCompleted,
		Transcript: "My stopwatch says ten seconds.",
	})

	for _, e := range effects {
		if _, ok := e.(disconnectEffect); ok {
			t.Fatalf("expected no disconnect for an embedded stop substring")
		}
	}
}

func TestErrorEventSurfacesProtocolError(t *testing.T) {
	_, effects := reduce(newSessionState(), protocol.ServerEvent{
		Type:  protocol.KindError,
		Error: &protocol.ErrorDetail{Code: "session_expired", Message: "session expired"},
	})

	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	surfaced, ok := effects[0].(surfaceErrorEffect)
	if !ok {
		t.Fatalf("expected surfaceErrorEffect, got %T", effects[0])
	}

	var protocolErr *ProtocolError
	if !errors.As(surfaced.err, &protocolErr) {
		t.Fatalf("expected a ProtocolError, got %T", surfaced.err)
	}
	if protocolErr.Code != "session_expired" {
		t.Fatalf("unexpected error code %q", protocolErr.Code)
	}
}

func TestSpeechStartDropsPendingFunctionCall(t *testing.T) {
	state, _ := reduceAll(t, newSessionState(),
		protocol.ServerEvent{Type: protocol.KindFunctionCallDelta, CallID: "call_3", Name: "get_weather", Delta: `{"loc`},
		protocol.ServerEvent{Type: protocol.KindSpeechStarted},
	)

	if state.pendingTool != nil {
		t.Fatalf("expected the half-streamed call dropped on interruption, got %+v", state.pendingTool)
	}
	if state.mode != ModeListening {
		t.Fatalf("expected listening, got %s", state.mode)
	}
}

func TestRecentEventLogIsBoundedAndMostRecentFirst(t *testing.T) {
	state := newSessionState()
	for range 15 {
		state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindSpeechStarted})
	}
	state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindSpeechStopped})

	if len(state.recent) != recentEventLimit {
		t.Fatalf("expected the log capped at %d, got %d", recentEventLimit, len(state.recent))
	}
	if state.recent[0].Name != string(protocol.KindSpeechStopped) {
		t.Fatalf("expected the newest event first, got %q", state.recent[0].Name)
	}
}

func TestReduceLeavesInputStateUntouched(t *testing.T) {
	state := newSessionState()
	state, _ = reduce(state, protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: "hello"})

	before := state.assistantBuffer
	next, _ := reduce(state, protocol.ServerEvent{Type: protocol.KindAudioTranscriptDelta, Delta: " there"})

	if state.assistantBuffer != before {
		t.Fatalf("expected input state untouched, buffer became %q", state.assistantBuffer)
	}
	if next.assistantBuffer != "hello there" {
		t.Fatalf("expected successor state to accumulate, got %q", next.assistantBuffer)
	}
}
