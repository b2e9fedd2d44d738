// Package transport owns the low-level duplex connection to the remote
// conversation endpoint: one real-time media path and one ordered, reliable
// control channel carrying JSON control events.
package transport

import (
	"context"
	"fmt"

	"github.com/chorus-voice/chorus-core/core/audio"
	"github.com/chorus-voice/chorus-core/core/bootstrap"
	"github.com/chorus-voice/chorus-core/core/protocol"
)

// Status is the connection lifecycle state. It only ever changes through a
// transport's own lifecycle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Kind names a transport implementation.
type Kind string

const (
	KindWebRTC    Kind = "webrtc"
	KindWebSocket Kind = "websocket"
)

// Config carries everything a transport needs to open one connection. Values
// are snapshotted at Open time; later mutation has no effect on an open
// connection.
type Config struct {
	// Endpoint is the remote conversation endpoint base URL.
	Endpoint string
	Model    string
	Voice    string

	// TokenIssuer mints the one-time ephemeral credential presented to the
	// endpoint. It is the only credential the transport ever sends.
	TokenIssuer bootstrap.TokenIssuer

	// CaptureDevice is the exclusive microphone handle, owned by the caller
	// and held by the transport between Open and Close.
	CaptureDevice audio.CaptureDevice
	// PlaybackDevice optionally plays the remote audio. Nil disables local
	// playback.
	PlaybackDevice audio.PlaybackDevice
}

// Transport establishes connections.
type Transport interface {
	Open(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is one live connection.
//
// Events delivers raw inbound control events strictly in arrival order;
// within a connection consumers may assume no reordering. Ready fires once,
// when the control channel is usable. States reports lifecycle transitions;
// a terminal failure is reported on Errs and resolves States to disconnected.
type Conn interface {
	Ready() <-chan struct{}
	Events() <-chan []byte
	States() <-chan Status
	Errs() <-chan error

	Send(ctx context.Context, event protocol.ClientEvent) error
	Close() error
}

// DeviceError reports a failed capture-device acquisition: no device,
// permission denied, or the device is still held by a previous connection.
// Fatal to the connection attempt; retrying without releasing the holder
// will fail again.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device error: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// TransportError reports a signaling, ICE, or channel failure. The connection
// is forced to disconnected; the caller may reconnect explicitly, there is no
// automatic retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
