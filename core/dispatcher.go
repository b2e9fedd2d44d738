package session

import (
	"strings"

	"github.com/chorus-voice/chorus-core/core/protocol"
)

// The dispatcher is a pure reducer over sessionState: every inbound control
// event maps to (next state, effects). Effects are descriptions of work; the
// session event loop performs them. Keeping reduction side-effect free makes
// the protocol state machine testable with no transport attached.

type effect interface{ isEffect() }

// configureSessionEffect asks the configurator to run for this connection.
type configureSessionEffect struct{}

// sendEventEffect emits one outbound control event.
type sendEventEffect struct{ event protocol.ClientEvent }

// executeToolEffect hands a correlated function call to the tool runtime.
type executeToolEffect struct {
	callID    string
	name      string
	arguments string
}

// playAudioEffect routes one base64 assistant audio delta to playback.
type playAudioEffect struct{ audio string }

// surfaceErrorEffect reports a non-fatal error to the caller.
type surfaceErrorEffect struct{ err error }

// disconnectEffect requests a graceful disconnect (stop-phrase match).
type disconnectEffect struct{ phrase string }

// messageFinalizedEffect announces a newly completed transcript message.
type messageFinalizedEffect struct{ message TranscriptMessage }

// partialTranscriptEffect announces an in-progress transcript fragment.
type partialTranscriptEffect struct {
	speaker Speaker
	text    string
}

func (configureSessionEffect) isEffect()  {}
func (sendEventEffect) isEffect()         {}
func (executeToolEffect) isEffect()       {}
func (playAudioEffect) isEffect()         {}
func (surfaceErrorEffect) isEffect()      {}
func (disconnectEffect) isEffect()        {}
func (messageFinalizedEffect) isEffect()  {}
func (partialTranscriptEffect) isEffect() {}

// reduce applies one inbound control event to the session state.
//
// Unrecognized kinds only land in the observational log so newer endpoint
// versions cannot break the state machine.
func reduce(state sessionState, event protocol.ServerEvent) (sessionState, []effect) {
	state = state.recordEvent(string(event.Type), now())

	switch event.Type {
	case protocol.KindSessionCreated:
		return state, []effect{configureSessionEffect{}}

	case protocol.KindSpeechStarted:
		state.mode = ModeListening
		state.pendingTool = nil
		return state, nil

	case protocol.KindSpeechStopped:
		state.mode = ModeProcessing
		return state, nil

	case protocol.KindFunctionCallDelta:
		state.mode = ModeProcessing
		return reduceFunctionCallDelta(state, event), nil

	case protocol.KindFunctionCallDone:
		return reduceFunctionCallDone(state, event)

	case protocol.KindAudioDelta:
		state.mode = ModeSpeaking
		return state, []effect{playAudioEffect{audio: event.Delta}}

	case protocol.KindAudioTranscriptDelta, protocol.KindTextDelta:
		state.mode = ModeSpeaking
		state = state.appendDelta(SpeakerAssistant, event.Delta)
		return state, []effect{partialTranscriptEffect{speaker: SpeakerAssistant, text: state.assistantBuffer}}

	case protocol.KindAudioTranscriptDone:
		return reduceAssistantFinal(state, event.Transcript)

	case protocol.KindTextDone:
		return reduceAssistantFinal(state, event.Text)

	case protocol.KindResponseDone:
		return reduceResponseDone(state, event)

	case protocol.KindResponseCancelled:
		// Interruption is cosmetic to the turn; in-flight tool calls keep
		// running and their results are still delivered.
		state.mode = ModeListening
		if state.assistantBuffer == "" {
			return state, nil
		}
		state, message := state.finalizeMessage(SpeakerAssistant, "", now())
		if message == nil {
			return state, nil
		}
		return state, []effect{messageFinalizedEffect{message: *message}}

	case protocol.KindTranscriptionDelta:
		state = state.appendDelta(SpeakerUser, event.Delta)
		return state, []effect{partialTranscriptEffect{speaker: SpeakerUser, text: state.userBuffer}}

	case protocol.KindTranscriptionCompleted:
		return reduceTranscriptionCompleted(state, event)

	case protocol.KindError:
		message := "unspecified protocol error"
		code := ""
		if event.Error != nil {
			message = event.Error.Message
			code = event.Error.Code
		}
		return state, []effect{surfaceErrorEffect{err: &ProtocolError{Code: code, Message: message}}}

	default:
		return state, nil
	}
}

func reduceFunctionCallDelta(state sessionState, event protocol.ServerEvent) sessionState {
	pending := state.pendingTool
	if pending == nil || (event.CallID != "" && pending.CallID != event.CallID) {
		pending = &pendingToolCall{CallID: event.CallID, Name: event.Name}
	}

	next := *pending
	if event.Name != "" {
		next.Name = event.Name
	}
	if event.CallID != "" {
		next.CallID = event.CallID
	}
	next.Arguments += event.Delta

	state.pendingTool = &next
	return state
}

func reduceFunctionCallDone(state sessionState, event protocol.ServerEvent) (sessionState, []effect) {
	call := executeToolEffect{callID: event.CallID, name: event.Name, arguments: event.Arguments}
	if pending := state.pendingTool; pending != nil {
		if call.callID == "" {
			call.callID = pending.CallID
		}
		if call.name == "" {
			call.name = pending.Name
		}
		if call.arguments == "" {
			call.arguments = pending.Arguments
		}
	}
	state.pendingTool = nil

	if call.callID != "" && state.executedCallIDs[call.callID] {
		return state, nil
	}
	state = state.markExecuted(call.callID)
	state.awaitingToolResults++
	state.mode = ModeProcessing
	return state, []effect{call}
}

func reduceAssistantFinal(state sessionState, authoritative string) (sessionState, []effect) {
	if authoritative != "" {
		state.assistantBuffer = authoritative
	}

	// Tie-break: a pending tool round-trip defers finalization, since the
	// assistant's text often depends on the tool result. The continuation
	// response flushes the combined buffer.
	if state.awaitingToolResults > 0 || state.pendingTool != nil {
		state.mode = ModeProcessing
		return state, nil
	}

	state, message := state.finalizeMessage(SpeakerAssistant, "", now())
	state.mode = ModeListening
	if message == nil {
		return state, nil
	}
	return state, []effect{messageFinalizedEffect{message: *message}}
}

func reduceResponseDone(state sessionState, event protocol.ServerEvent) (sessionState, []effect) {
	var effects []effect
	for _, call := range event.Response.FunctionCalls() {
		if call.CallID != "" && state.executedCallIDs[call.CallID] {
			continue
		}
		state = state.markExecuted(call.CallID)
		state.awaitingToolResults++
		effects = append(effects, executeToolEffect{
			callID:    call.CallID,
			name:      call.Name,
			arguments: call.Arguments,
		})
	}
	state.pendingTool = nil

	if len(effects) > 0 {
		// The response ended on an unresolved function call; finalization
		// waits for the tool round-trip.
		state.mode = ModeProcessing
		return state, effects
	}

	if state.awaitingToolResults > 0 {
		// The calls were already dispatched from their done events but the
		// model is still blocked on the results.
		state.mode = ModeProcessing
		return state, nil
	}

	if state.assistantBuffer != "" {
		var message *TranscriptMessage
		state, message = state.finalizeMessage(SpeakerAssistant, "", now())
		if message != nil {
			effects = append(effects, messageFinalizedEffect{message: *message})
		}
	}
	state.mode = ModeListening
	return state, effects
}

func reduceTranscriptionCompleted(state sessionState, event protocol.ServerEvent) (sessionState, []effect) {
	state, message := state.finalizeMessage(SpeakerUser, event.Transcript, now())
	if message == nil {
		return state, nil
	}

	effects := []effect{messageFinalizedEffect{message: *message}}
	if phrase, ok := matchStopPhrase(message.Text); ok {
		effects = append(effects, disconnectEffect{phrase: phrase})
	}
	return state, effects
}

func (s sessionState) markExecuted(callID string) sessionState {
	if callID == "" {
		return s
	}

	executed := make(map[string]bool, len(s.executedCallIDs)+1)
	for id := range s.executedCallIDs {
		executed[id] = true
	}
	executed[callID] = true
	s.executedCallIDs = executed
	return s
}

// stopPhrases end the conversation when they appear in a completed user
// transcription.
var stopPhrases = []string{
	"stop",
	"goodbye",
	"good bye",
	"hang up",
	"end the conversation",
	"bye bye",
}

func matchStopPhrase(text string) (string, bool) {
	normalized := strings.ToLower(text)
	normalized = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '\'', '"':
			return -1
		}
		return r
	}, normalized)
	padded := " " + strings.Join(strings.Fields(normalized), " ") + " "

	for _, phrase := range stopPhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return phrase, true
		}
	}
	return "", false
}
