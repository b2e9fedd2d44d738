package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chorus-voice/chorus-core/core/audio"
)

// PlaybackDevice plays remote assistant audio through malgo, implementing
// audio.PlaybackDevice. Frames written while the device runs are buffered and
// drained by the device callback at its own pace.
type PlaybackDevice struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	pending []byte

	mu      sync.Mutex
	audioMu sync.Mutex
}

func NewPlaybackDevice() *PlaybackDevice {
	return &PlaybackDevice{encodingInfo: audio.GetDefaultEncodingInfo()}
}

func (p *PlaybackDevice) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		if p.device.IsStarted() {
			return nil
		}
		if err := p.device.Start(); err != nil {
			return fmt.Errorf("failed to start playback device: %w", err)
		}
		return nil
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	sampleRate := uint32(p.encodingInfo.SampleRate)
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * p.encodingInfo.Channels

	p.config = malgo.DefaultDeviceConfig(malgo.Playback)
	p.config.SampleRate = sampleRate
	p.config.Playback.Format = format
	p.config.Playback.Channels = uint32(p.encodingInfo.Channels)
	p.config.Alsa.NoMMap = 1
	p.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	p.config.Periods = 4

	p.device, err = malgo.InitDevice(audioCtx.Context, p.config, malgo.DeviceCallbacks{
		Data: p.drain(bytesPerFrame),
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.audioContext = audioCtx

	if err := p.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (p *PlaybackDevice) Write(frame []byte) error {
	p.mu.Lock()
	started := p.device != nil && p.device.IsStarted()
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	p.audioMu.Lock()
	defer p.audioMu.Unlock()
	p.pending = append(p.pending, frame...)
	return nil
}

func (p *PlaybackDevice) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.audioMu.Lock()
	p.pending = nil
	p.audioMu.Unlock()

	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.audioContext != nil {
		_ = p.audioContext.Uninit()
		p.audioContext.Free()
		p.audioContext = nil
	}
	return nil
}

func (p *PlaybackDevice) drain(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		p.audioMu.Lock()
		defer p.audioMu.Unlock()

		if len(p.pending) == 0 {
			return
		}

		if len(p.pending) < need {
			copy(pOutput, p.pending)
			p.pending = nil
			return
		}

		copy(pOutput, p.pending[:need])
		p.pending = p.pending[need:]
	}
}
