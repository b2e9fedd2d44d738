// Package webrtc implements the realtime transport over a peer connection:
// microphone audio on a local opus track, remote audio on the inbound track,
// and control events on one ordered, reliable data channel.
package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.opentelemetry.io/otel/codes"

	"github.com/chorus-voice/chorus-core/core/audio"
	"github.com/chorus-voice/chorus-core/core/bootstrap"
	"github.com/chorus-voice/chorus-core/core/protocol"
	"github.com/chorus-voice/chorus-core/core/transport"
)

const (
	controlChannelLabel = "oai-events"
	iceGatherTimeout    = 10 * time.Second
	captureFrameMs      = 20
)

// Transport opens pion-backed connections.
type Transport struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

type TransportOption func(*Transport)

// WithICEServers overrides the STUN/TURN servers offered to ICE.
func WithICEServers(servers ...webrtc.ICEServer) TransportOption {
	return func(t *Transport) { t.iceServers = servers }
}

// New creates the transport with opus registered and a NACK responder wired
// into the interceptor chain.
func New(opts ...TransportOption) (*Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create nack responder: %w", err)
	}
	registry.Add(responder)

	t := &Transport{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
		),
		iceServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Conn is one live peer connection.
type Conn struct {
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	device  audio.CaptureDevice

	ready  chan struct{}
	events chan []byte
	states chan transport.Status
	errs   chan error

	readyOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// Open acquires the capture device, fetches the ephemeral credential,
// negotiates the offer/answer handshake and returns once the peer connection
// is set up. The control channel becomes usable when Ready fires.
func (t *Transport) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	ctx, span := tracer.Start(ctx, "open webrtc transport")
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

	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return nil, &transport.TransportError{Op: "peer connection", Err: err}
	}

	conn := &Conn{
		pc:     pc,
		device: cfg.CaptureDevice,
		ready:  make(chan struct{}),
		events: make(chan []byte, 64),
		states: make(chan transport.Status, 8),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"microphone", "chorus-core",
	)
	if err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "local track", Err: err}
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "add track", Err: err}
	}

	// Ordered and reliable; the dispatcher depends on in-order delivery.
	ordered := true
	channel, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "control channel", Err: err}
	}
	conn.channel = channel

	channel.OnOpen(func() {
		logger.Info("control channel opened", "label", channel.Label())
		conn.readyOnce.Do(func() { close(conn.ready) })
	})
	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case conn.events <- msg.Data:
		case <-conn.closed:
		}
	})
	channel.OnClose(func() {
		conn.fail(&transport.TransportError{Op: "control channel", Err: fmt.Errorf("channel closed by remote")})
	})

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("inbound track", "codec", remoteTrack.Codec().MimeType)
		if cfg.PlaybackDevice != nil {
			go conn.playbackLoop(remoteTrack, cfg.PlaybackDevice)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			conn.pushState(transport.StatusConnected)
		case webrtc.PeerConnectionStateFailed:
			conn.fail(&transport.TransportError{Op: "ice", Err: fmt.Errorf("peer connection failed")})
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			conn.pushState(transport.StatusDisconnected)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "create offer", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "set local description", Err: err}
	}

	gatherDone := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherDone:
	case <-time.After(iceGatherTimeout):
		logger.Warn("ICE gathering timed out, proceeding with partial candidates")
	case <-ctx.Done():
		pc.Close()
		return nil, &transport.TransportError{Op: "ice gathering", Err: ctx.Err()}
	}

	answer, err := negotiate(ctx, cfg.Endpoint, cfg.Model, grant.EphemeralToken, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "signaling", Err: err}
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		pc.Close()
		return nil, &transport.TransportError{Op: "set remote description", Err: err}
	}

	if err := conn.startCapture(ctx, track); err != nil {
		pc.Close()
		return nil, err
	}

	return conn, nil
}

// startCapture routes microphone frames through the pass-through gain stage
// and the opus encoder onto the local track. The gain stage is load-bearing:
// without it some remote VAD implementations clip the start of utterances.
func (c *Conn) startCapture(ctx context.Context, track *webrtc.TrackLocalStaticSample) error {
	info := c.device.EncodingInfo()
	encoder, err := opus.NewEncoder(info.SampleRate, info.Channels, opus.AppVoIP)
	if err != nil {
		return &transport.TransportError{Op: "opus encoder", Err: err}
	}

	gain := audio.NewGainStage()
	opusBuf := make([]byte, 4000)
	var pcm []int16

	err = c.device.Start(ctx, func(frame []byte) {
		routed := gain.Process(frame)

		if cap(pcm) < len(routed)/2 {
			pcm = make([]int16, len(routed)/2)
		}
		pcm = pcm[:len(routed)/2]
		for i := range pcm {
			pcm[i] = int16(routed[2*i]) | int16(routed[2*i+1])<<8
		}

		n, err := encoder.Encode(pcm, opusBuf)
		if err != nil {
			logger.Warn("failed to encode capture frame", "error", err)
			return
		}

		if err := track.WriteSample(media.Sample{
			Data:     append([]byte(nil), opusBuf[:n]...),
			Duration: captureFrameMs * time.Millisecond,
		}); err != nil {
			logger.Warn("failed to write capture sample", "error", err)
		}
	})
	if err != nil {
		return &transport.TransportError{Op: "capture start", Err: err}
	}
	return nil
}

func (c *Conn) playbackLoop(track *webrtc.TrackRemote, playback audio.PlaybackDevice) {
	decoder, err := opus.NewDecoder(audio.DefaultSampleRate, audio.DefaultChannels)
	if err != nil {
		logger.Warn("failed to create opus decoder", "error", err)
		return
	}

	if err := playback.Start(context.Background()); err != nil {
		logger.Warn("failed to start playback device", "error", err)
		return
	}

	pcm := make([]int16, 5760)
	frame := make([]byte, 0, len(pcm)*2)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}

		frame = frame[:0]
		for _, sample := range pcm[:n] {
			frame = append(frame, byte(sample), byte(sample>>8))
		}
		if err := playback.Write(frame); err != nil {
			return
		}
	}
}

func (c *Conn) Ready() <-chan struct{}          { return c.ready }
func (c *Conn) Events() <-chan []byte           { return c.events }
func (c *Conn) States() <-chan transport.Status { return c.states }
func (c *Conn) Errs() <-chan error              { return c.errs }

// Send marshals and sends one control event over the data channel.
func (c *Conn) Send(_ context.Context, event protocol.ClientEvent) error {
	select {
	case <-c.closed:
		return &transport.TransportError{Op: "send", Err: fmt.Errorf("connection closed")}
	default:
	}

	payload, err := protocol.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Kind(), err)
	}

	if err := c.channel.SendText(string(payload)); err != nil {
		return &transport.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close stops capture, releases the device, and tears down the channel and
// peer connection. Idempotent.
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

		if err := c.channel.Close(); err != nil {
			closeErr = &transport.TransportError{Op: "close channel", Err: err}
		}
		if err := c.pc.Close(); err != nil {
			closeErr = &transport.TransportError{Op: "close peer connection", Err: err}
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
		// A slow consumer only ever misses intermediate states.
	}
}
