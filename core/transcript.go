package session

import (
	"time"

	"github.com/google/uuid"
)

// Transcript aggregation: streamed deltas accumulate in per-speaker scratch
// buffers on the reducer state and become immutable TranscriptMessages when a
// finalizing event fires. All helpers preserve reducer value semantics, so
// they copy before mutating anything shared.

func (s sessionState) appendDelta(speaker Speaker, delta string) sessionState {
	switch speaker {
	case SpeakerUser:
		s.userBuffer += delta
	case SpeakerAssistant:
		s.assistantBuffer += delta
	}
	return s
}

// finalizeMessage turns the speaker's buffer into an appended, complete
// message. fullText is the protocol's authoritative text and wins over the
// concatenated deltas when present; under high verbosity deltas may have been
// observed out of order.
func (s sessionState) finalizeMessage(speaker Speaker, fullText string, at time.Time) (sessionState, *TranscriptMessage) {
	text := fullText
	if text == "" {
		switch speaker {
		case SpeakerUser:
			text = s.userBuffer
		case SpeakerAssistant:
			text = s.assistantBuffer
		}
	}

	switch speaker {
	case SpeakerUser:
		s.userBuffer = ""
	case SpeakerAssistant:
		s.assistantBuffer = ""
	}

	if text == "" {
		return s, nil
	}

	message := TranscriptMessage{
		ID:         uuid.NewString(),
		Speaker:    speaker,
		Text:       text,
		Timestamp:  at,
		IsComplete: true,
	}
	if speaker == SpeakerAssistant && len(s.pendingInvocations) > 0 {
		message.ToolCalls = s.pendingInvocations
		s.pendingInvocations = nil
	}

	messages := make([]TranscriptMessage, 0, len(s.messages)+1)
	messages = append(messages, s.messages...)
	messages = append(messages, message)
	s.messages = messages

	return s, &message
}

// attachToolCall back-patches the most recently finalized assistant message
// that has no tool calls yet. Completed text is never rewritten; only the
// tool-call annotation is added. Reports whether a message accepted the
// invocation.
func (s sessionState) attachToolCall(invocation ToolInvocation) (sessionState, bool) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Speaker != SpeakerAssistant || len(s.messages[i].ToolCalls) > 0 {
			continue
		}

		messages := make([]TranscriptMessage, len(s.messages))
		copy(messages, s.messages)
		messages[i].ToolCalls = []ToolInvocation{invocation}
		s.messages = messages
		return s, true
	}
	return s, false
}

// clearTranscript empties the message list and scratch buffers. Connection
// status and assistant mode are untouched.
func (s sessionState) clearTranscript() sessionState {
	s.messages = nil
	s.userBuffer = ""
	s.assistantBuffer = ""
	return s
}
