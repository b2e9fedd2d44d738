// Package websocket implements the realtime transport over a single gorilla
// websocket: control events as JSON text frames, microphone audio streamed as
// base64 input_audio_buffer.append events. Remote audio arrives as
// response.audio.delta control events and is played by the session, so this
// transport carries no separate media path.
package websocket

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"github.com/chorus-voice/chorus-core/core/audio"
	"github.com/chorus-voice/chorus-core/core/bootstrap"
	"github.com/chorus-voice/chorus-core/core/protocol"
	"github.com/chorus-voice/chorus-core/core/transport"
)

// Transport opens websocket-backed connections.
type Transport struct {
	dialer *websocket.Dialer
}

func New() *Transport {
	return &Transport{dialer: websocket.DefaultDialer}
}

// Conn is one live websocket connection.
type Conn struct {
	ws     *websocket.Conn
	device audio.CaptureDevice

	ready  chan struct{}
	events chan []byte
	states chan transport.Status
	errs   chan error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Open acquires the capture device, fetches the ephemeral credential and
// dials the endpoint. The control channel is usable as soon as the dial
// succeeds; Ready fires immediately after Open returns.
func (t *Transport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	ctx, span := tracer.Start(ctx, "open websocket transport")
	defer span.End()

	if cfg.CaptureDevice == nil {
		return nil, &transport.DeviceError{Err: fmt.Errorf("no capture device configured")}
	}

	if err := cfg.CaptureDevice.Acquire(ctx); err != nil {
		err = &transport.DeviceError{Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conn, err := t.open(ctx, cfg)
	if err != nil {
		_ = cfg.CaptureDevice.Release()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return conn, nil
}

func (t *Transport) open(ctx context.Context, cfg transport.Config) (*Conn, error) {
	grant, err := cfg.TokenIssuer.CreateSession(ctx, bootstrap.CreateSessionRequest{
		Voice: cfg.Voice,
		Model: cfg.Model,
	})
	if err != nil {
		return nil, &transport.TransportError{Op: "credential fetch", Err: err}
	}

	endpoint, err := websocketURL(cfg.Endpoint, cfg.Model)
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}

	ws, _, err := t.dialer.DialContext(ctx, endpoint,
		http.Header{"Authorization": {"Bearer " + grant.EphemeralToken}})
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}

	conn := &Conn{
		ws:     ws,
		device: cfg.CaptureDevice,
		ready:  make(chan struct{}),
		events: make(chan []byte, 64),
		states: make(chan transport.Status, 8),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}

	go conn.readLoop()

	if err := conn.startCapture(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn.pushState(transport.StatusConnected)
	close(conn.ready)
	return conn, nil
}

func websocketURL(endpoint, model string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https", "":
		parsed.Scheme = "wss"
	}

	query := parsed.Query()
	query.Set("model", model)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// startCapture streams microphone frames to the endpoint as base64 append
// events, routed through the pass-through gain stage first so remote VAD does
// not clip utterance onsets.
func (c *Conn) startCapture(ctx context.Context) error {
	gain := audio.NewGainStage()

	err := c.device.Start(ctx, func(frame []byte) {
		routed := gain.Process(frame)
		event := protocol.NewInputAudioAppend(base64.StdEncoding.EncodeToString(routed))
		if err := c.Send(ctx, event); err != nil {
			select {
			case <-c.closed:
			default:
				logger.Warn("failed to stream capture frame", "error", err)
			}
		}
	})
	if err != nil {
		return &transport.TransportError{Op: "capture start", Err: err}
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.pushState(transport.StatusDisconnected)
				} else {
					c.fail(&transport.TransportError{Op: "read", Err: err})
				}
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case c.events <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) Ready() <-chan struct{}          { return c.ready }
func (c *Conn) Events() <-chan []byte           { return c.events }
func (c *Conn) States() <-chan transport.Status { return c.states }
func (c *Conn) Errs() <-chan error              { return c.errs }

// Send marshals and writes one control event. Writes are serialized; gorilla
// connections do not allow concurrent writers.
func (c *Conn) Send(_ context.Context, event protocol.ClientEvent) error {
	select {
	case <-c.closed:
		return &transport.TransportError{Op: "send", Err: fmt.Errorf("connection closed")}
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(event); err != nil {
		return &transport.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close stops capture, releases the device and closes the socket with a
// best-effort close handshake. Idempotent.
func (c *Conn) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closed)

		if err := c.device.Stop(); err != nil {
			logger.Warn("failed to stop capture device", "error", err)
		}
		if err := c.device.Release(); err != nil {
			logger.Warn("failed to release capture device", "error", err)
		}

		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		if err := c.ws.Close(); err != nil {
			closeErr = &transport.TransportError{Op: "close", Err: err}
		}

		c.pushState(transport.StatusDisconnected)
	})
	return closeErr
}

func (c *Conn) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
	c.pushState(transport.StatusDisconnected)
}

func (c *Conn) pushState(status transport.Status) {
	select {
	case c.states <- status:
	default:
	}
}
