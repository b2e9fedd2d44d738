package session

import (
	"fmt"

	"github.com/chorus-voice/chorus-core/core/transport"
)

// The device and transport halves of the error taxonomy originate below the
// dispatcher and are defined with the transport; they are re-exported here so
// callers only deal with one package.
type (
	// DeviceError: capture permission denied or device missing. Fatal to the
	// connection attempt, never retried automatically.
	DeviceError = transport.DeviceError
	// TransportError: signaling/ICE/channel failure. The connection resolves
	// to disconnected; the caller may reconnect explicitly.
	TransportError = transport.TransportError
)

// ProtocolError is a malformed or error-tagged inbound control event. It is
// surfaced to the caller as a message; the connection stays open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("protocol error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// ToolProviderError is a capability-provider failure. It never terminates the
// session; it is converted into an error-shaped tool result so the remote
// model can react in natural language.
type ToolProviderError struct {
	Tool string
	Err  error
}

func (e *ToolProviderError) Error() string {
	return fmt.Sprintf("tool provider %q failed: %v", e.Tool, e.Err)
}

func (e *ToolProviderError) Unwrap() error { return e.Err }
