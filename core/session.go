// Package session manages realtime voice conversations against a remote
// speech endpoint: it opens a transport, drives the protocol state machine,
// executes tool calls, and aggregates the conversation transcript.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/codes"

	"github.com/chorus-voice/chorus-core/core/audio"
	"github.com/chorus-voice/chorus-core/core/bootstrap"
	"github.com/chorus-voice/chorus-core/core/protocol"
	"github.com/chorus-voice/chorus-core/core/tools"
	"github.com/chorus-voice/chorus-core/core/transport"
	"github.com/chorus-voice/chorus-core/core/transport/webrtc"
	"github.com/chorus-voice/chorus-core/core/transport/websocket"
)

const (
	defaultModel = "gpt-4o-realtime-preview"
	defaultVoice = "alloy"

	// disconnectGrace lets in-flight assistant audio drain before a graceful
	// close handshake.
	disconnectGrace = 250 * time.Millisecond
)

var errNotConnected = errors.New("session is not connected")

// Session is one realtime conversation. Construct with New, then Connect; a
// single Session can be connected and disconnected repeatedly, one connection
// at a time. The transcript survives disconnection until ClearTranscript.
//
// All methods are safe for concurrent use.
type Session struct {
	mu     sync.RWMutex
	config Config
	status ConnectionStatus
	state  sessionState

	transport       transport.Transport
	endpoint        string
	tokenIssuer     bootstrap.TokenIssuer
	captureDevice   audio.CaptureDevice
	playbackDevice  audio.PlaybackDevice
	contextProvider ContextProvider
	registry        *tools.Registry

	onModeChanged       func(AssistantMode)
	onStatusChanged     func(ConnectionStatus)
	onMessageFinalized  func(TranscriptMessage)
	onPartialTranscript func(Speaker, string)
	onError             func(error)

	conn        transport.Conn
	loopDone    chan struct{}
	toolResults chan ToolInvocation
	cancelLoop  context.CancelFunc

	configuring     atomic.Bool
	playbackStarted atomic.Bool
}

func New(opts ...SessionOption) *Session {
	s := &Session{
		config: Config{
			Transport: transport.KindWebRTC,
			Model:     defaultModel,
			Voice:     defaultVoice,
		},
		status:   StatusDisconnected,
		state:    newSessionState(),
		registry: tools.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect establishes the transport connection and starts the event loop. A
// still-open previous connection is torn down first so the capture device is
// released before the new transport tries to acquire it.
func (s *Session) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "connect session")
	defer span.End()

	if err := s.ForceStop(); err != nil {
		logger.Warn("failed to tear down previous connection", "error", err)
	}

	s.mu.Lock()
	if s.tokenIssuer == nil {
		s.mu.Unlock()
		return errors.New("no token issuer configured")
	}
	if s.captureDevice == nil {
		s.mu.Unlock()
		return errors.New("no capture device configured")
	}
	if s.transport == nil {
		t, err := s.defaultTransport()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.transport = t
	}

	cfg := transport.Config{
		Endpoint:       s.endpoint,
		Model:          s.config.Model,
		Voice:          s.config.Voice,
		TokenIssuer:    s.tokenIssuer,
		CaptureDevice:  s.captureDevice,
		PlaybackDevice: s.playbackDevice,
	}
	transportImpl := s.transport
	s.status = StatusConnecting
	s.mu.Unlock()
	s.notifyStatus(StatusConnecting)

	conn, err := transportImpl.Open(ctx, cfg)
	if err != nil {
		s.mu.Lock()
		s.status = StatusDisconnected
		s.mu.Unlock()
		s.notifyStatus(StatusDisconnected)

		err = fmt.Errorf("failed to open transport: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	toolResults := make(chan ToolInvocation, 8)

	s.mu.Lock()
	s.conn = conn
	s.state = newSessionState()
	s.loopDone = loopDone
	s.toolResults = toolResults
	s.cancelLoop = cancel
	s.configuring.Store(false)
	s.playbackStarted.Store(false)
	s.mu.Unlock()

	go s.eventLoop(loopCtx, conn, loopDone, toolResults)

	logger.Info("session connecting", "transport", string(s.config.Transport), "model", cfg.Model)
	return nil
}

func (s *Session) defaultTransport() (transport.Transport, error) {
	switch s.config.Transport {
	case transport.KindWebSocket:
		return websocket.New(), nil
	default:
		t, err := webrtc.New()
		if err != nil {
			return nil, fmt.Errorf("failed to build transport: %w", err)
		}
		return t, nil
	}
}

// Disconnect gracefully ends the session: in-flight audio gets a short grace
// period and the transport performs its close handshake. Idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-time.After(disconnectGrace):
	}
	return s.shutdown()
}

// ForceStop tears the connection down immediately, skipping the grace period.
// Idempotent; safe to call on an already disconnected session.
func (s *Session) ForceStop() error {
	return s.shutdown()
}

func (s *Session) shutdown() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancelLoop
	done := s.loopDone
	s.conn = nil
	s.cancelLoop = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	closeErr := conn.Close()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if s.playbackStarted.CompareAndSwap(true, false) && s.playbackDevice != nil {
		if err := s.playbackDevice.Stop(); err != nil {
			logger.Warn("failed to stop playback device", "error", err)
		}
	}

	s.mu.Lock()
	s.status = StatusDisconnected
	s.state.mode = ModeIdle
	s.config.StartTime = nil
	s.configuring.Store(false)
	s.mu.Unlock()

	s.notifyStatus(StatusDisconnected)
	s.notifyMode(ModeIdle)

	if closeErr != nil {
		return fmt.Errorf("failed to close connection: %w", closeErr)
	}
	return nil
}

// delivery pins async work to the connection that spawned it. Effects and
// tool results route through the snapshot, never through the live session
// fields, so work outliving a teardown cannot leak into a newer connection.
type delivery struct {
	conn    transport.Conn
	results chan ToolInvocation
	done    chan struct{}
}

func (d delivery) send(ctx context.Context, event protocol.ClientEvent) error {
	return d.conn.Send(ctx, event)
}

func (d delivery) deliver(invocation ToolInvocation) {
	select {
	case d.results <- invocation:
	case <-d.done:
	}
}

// eventLoop is the single consumer of the connection's channels. All state
// mutation happens here or under s.mu, keeping the reducer's event ordering
// identical to arrival ordering.
func (s *Session) eventLoop(ctx context.Context, conn transport.Conn, done chan struct{}, toolResults chan ToolInvocation) {
	defer close(done)

	dl := delivery{conn: conn, results: toolResults, done: done}

	ready := conn.Ready()
	events := conn.Events()
	states := conn.States()
	errs := conn.Errs()

	for {
		select {
		case <-ready:
			ready = nil
			start := now()
			s.mu.Lock()
			s.config.StartTime = &start
			s.status = StatusConnected
			s.mu.Unlock()
			s.notifyStatus(StatusConnected)
			go s.configure(ctx, dl)

		case raw, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			event, err := protocol.Decode(raw)
			if err != nil {
				s.surfaceError(&ProtocolError{Message: fmt.Sprintf("malformed event: %v", err)})
				continue
			}
			s.dispatch(ctx, dl, event)

		case status, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			s.mu.Lock()
			changed := s.status != status
			s.status = status
			s.mu.Unlock()
			if changed {
				s.notifyStatus(status)
			}
			if status == StatusDisconnected {
				// Remote-initiated teardown; release the device and settle
				// the session state from outside the loop.
				go func() {
					if err := s.ForceStop(); err != nil {
						logger.Warn("failed to settle after remote disconnect", "error", err)
					}
				}()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.surfaceError(err)

		case invocation := <-toolResults:
			s.absorbToolResult(invocation)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, dl delivery, event protocol.ServerEvent) {
	s.mu.Lock()
	next, effects := reduce(s.state, event)
	modeChanged := next.mode != s.state.mode
	s.state = next
	mode := next.mode
	s.mu.Unlock()

	if modeChanged {
		s.notifyMode(mode)
	}
	for _, e := range effects {
		s.applyEffect(ctx, dl, e)
	}
}

func (s *Session) applyEffect(ctx context.Context, dl delivery, e effect) {
	switch e := e.(type) {
	case configureSessionEffect:
		go s.configure(ctx, dl)

	case sendEventEffect:
		if err := dl.send(ctx, e.event); err != nil {
			s.surfaceError(err)
		}

	case executeToolEffect:
		go s.executeTool(ctx, dl, e.callID, e.name, e.arguments)

	case playAudioEffect:
		s.playAudio(ctx, e.audio)

	case surfaceErrorEffect:
		s.surfaceError(e.err)

	case disconnectEffect:
		logger.Info("stop phrase detected, ending conversation", "phrase", e.phrase)
		go func() {
			if err := s.Disconnect(context.Background()); err != nil {
				logger.Warn("failed to disconnect after stop phrase", "error", err)
			}
		}()

	case messageFinalizedEffect:
		if s.onMessageFinalized != nil {
			s.onMessageFinalized(e.message)
		}

	case partialTranscriptEffect:
		if s.onPartialTranscript != nil {
			s.onPartialTranscript(e.speaker, e.text)
		}
	}
}

// playAudio routes one base64 audio delta to the playback device. Only the
// message-channel transport delivers audio this way; the media-track
// transport plays directly and never produces these events.
func (s *Session) playAudio(ctx context.Context, encoded string) {
	if s.playbackDevice == nil {
		return
	}

	if s.playbackStarted.CompareAndSwap(false, true) {
		if err := s.playbackDevice.Start(ctx); err != nil {
			s.playbackStarted.Store(false)
			s.surfaceError(&DeviceError{Err: fmt.Errorf("failed to start playback: %w", err)})
			return
		}
	}

	audioBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.surfaceError(&ProtocolError{Message: fmt.Sprintf("malformed audio delta: %v", err)})
		return
	}
	if err := s.playbackDevice.Write(audioBytes); err != nil {
		s.surfaceError(&DeviceError{Err: fmt.Errorf("failed to play audio: %w", err)})
	}
}

// absorbToolResult folds a completed tool invocation back into the
// transcript: the most recent assistant message without tool calls takes it,
// otherwise it waits for the next finalized assistant message.
func (s *Session) absorbToolResult(invocation ToolInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.awaitingToolResults > 0 {
		s.state.awaitingToolResults--
	}

	var attached bool
	s.state, attached = s.state.attachToolCall(invocation)
	if !attached {
		pending := make([]ToolInvocation, 0, len(s.state.pendingInvocations)+1)
		pending = append(pending, s.state.pendingInvocations...)
		pending = append(pending, invocation)
		s.state.pendingInvocations = pending
	}
}

// SendText injects a typed user message and asks the assistant to respond,
// alongside whatever audio the conversation is carrying.
func (s *Session) SendText(ctx context.Context, text string) error {
	if err := s.send(ctx, protocol.NewUserTextItem(text)); err != nil {
		return fmt.Errorf("failed to send text message: %w", err)
	}
	if err := s.send(ctx, protocol.NewResponseCreate()); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}
	return nil
}

func (s *Session) send(ctx context.Context, event protocol.ClientEvent) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Send(ctx, event)
}

// Status returns the current connection status.
func (s *Session) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Mode returns the current assistant mode.
func (s *Session) Mode() AssistantMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.mode
}

// Config returns a point-in-time copy of the session configuration.
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.config
	if s.config.StartTime != nil {
		start := *s.config.StartTime
		cfg.StartTime = &start
	}
	return cfg
}

// Transcript returns a point-in-time deep copy of the finalized messages.
// Mutating the returned slice has no effect on the session.
func (s *Session) Transcript() []TranscriptMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.state.messages) == 0 {
		return nil
	}

	var messages []TranscriptMessage
	if err := copier.CopyWithOption(&messages, s.state.messages, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to copy transcript", "error", err)
		return nil
	}
	return messages
}

// RecentEvents returns the bounded most-recent-first log of raw inbound event
// names, for diagnostics.
func (s *Session) RecentEvents() []RecentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := make([]RecentEvent, len(s.state.recent))
	copy(recent, s.state.recent)
	return recent
}

// ClearTranscript drops all finalized messages and scratch buffers. The
// connection, if any, is untouched.
func (s *Session) ClearTranscript() {
	s.mu.Lock()
	s.state = s.state.clearTranscript()
	s.mu.Unlock()
}

func (s *Session) notifyStatus(status ConnectionStatus) {
	if s.onStatusChanged != nil {
		s.onStatusChanged(status)
	}
}

func (s *Session) notifyMode(mode AssistantMode) {
	if s.onModeChanged != nil {
		s.onModeChanged(mode)
	}
}

func (s *Session) surfaceError(err error) {
	if err == nil {
		return
	}
	logger.Warn("session error", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}
