package session

import (
	"github.com/chorus-voice/chorus-core/core/audio"
	"github.com/chorus-voice/chorus-core/core/bootstrap"
	"github.com/chorus-voice/chorus-core/core/tools"
	"github.com/chorus-voice/chorus-core/core/transport"
)

// SessionOption configures a Session during construction.
type SessionOption func(*Session)

// WithTransport selects the transport implementation used to reach the
// realtime endpoint.
func WithTransport(kind transport.Kind, t transport.Transport) SessionOption {
	return func(s *Session) {
		s.config.Transport = kind
		s.transport = t
	}
}

// WithEndpoint sets the realtime endpoint base URL.
func WithEndpoint(endpoint string) SessionOption {
	return func(s *Session) { s.endpoint = endpoint }
}

// WithModel sets the model requested for the session.
func WithModel(model string) SessionOption {
	return func(s *Session) { s.config.Model = model }
}

// WithVoice sets the assistant voice requested for the session.
func WithVoice(voice string) SessionOption {
	return func(s *Session) { s.config.Voice = voice }
}

// WithLanguage sets the preferred conversation language.
func WithLanguage(language string) SessionOption {
	return func(s *Session) { s.config.Language = language }
}

// WithWakePhrase records the phrase an outer listener should trigger on. The
// session itself does not act on it; it is exposed through Config for callers
// that gate Connect behind wake-word detection.
func WithWakePhrase(phrase string) SessionOption {
	return func(s *Session) { s.config.WakePhrase = phrase }
}

// WithTokenIssuer sets the bootstrap issuer used to mint ephemeral session
// credentials before each connection.
func WithTokenIssuer(issuer bootstrap.TokenIssuer) SessionOption {
	return func(s *Session) { s.tokenIssuer = issuer }
}

// WithCaptureDevice sets the microphone source.
func WithCaptureDevice(device audio.CaptureDevice) SessionOption {
	return func(s *Session) { s.captureDevice = device }
}

// WithPlaybackDevice sets the speaker sink for assistant audio.
func WithPlaybackDevice(device audio.PlaybackDevice) SessionOption {
	return func(s *Session) { s.playbackDevice = device }
}

// WithContextProvider sets the provider of live user context embedded into
// session instructions.
func WithContextProvider(provider ContextProvider) SessionOption {
	return func(s *Session) { s.contextProvider = provider }
}

// WithTools registers additional tools with the session's registry.
func WithTools(toolList ...tools.Tool) SessionOption {
	return func(s *Session) {
		for _, tool := range toolList {
			s.registry.Add(tool)
		}
	}
}

// WithToolRegistry replaces the session's tool registry wholesale.
func WithToolRegistry(registry *tools.Registry) SessionOption {
	return func(s *Session) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithModeChangedCallback is invoked whenever the assistant mode changes.
func WithModeChangedCallback(callback func(AssistantMode)) SessionOption {
	return func(s *Session) { s.onModeChanged = callback }
}

// WithStatusChangedCallback is invoked whenever the connection status changes.
func WithStatusChangedCallback(callback func(ConnectionStatus)) SessionOption {
	return func(s *Session) { s.onStatusChanged = callback }
}

// WithMessageFinalizedCallback is invoked once per completed transcript
// message, in finalization order.
func WithMessageFinalizedCallback(callback func(TranscriptMessage)) SessionOption {
	return func(s *Session) { s.onMessageFinalized = callback }
}

// WithPartialTranscriptCallback is invoked with the accumulated in-progress
// text each time a transcript delta arrives.
func WithPartialTranscriptCallback(callback func(Speaker, string)) SessionOption {
	return func(s *Session) { s.onPartialTranscript = callback }
}

// WithErrorCallback is invoked for non-fatal errors surfaced during a
// session, protocol errors and tool provider failures included.
func WithErrorCallback(callback func(error)) SessionOption {
	return func(s *Session) { s.onError = callback }
}
