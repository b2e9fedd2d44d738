// Package miniaudio backs the audio capability contracts with malgo.
package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chorus-voice/chorus-core/core/audio"
)

// CaptureDevice is an exclusive malgo-backed microphone handle implementing
// audio.CaptureDevice.
type CaptureDevice struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	onAudio func(audio []byte)

	mu sync.Mutex
}

// NewCaptureDevice creates an unacquired capture handle at the realtime
// endpoint's native encoding.
func NewCaptureDevice() *CaptureDevice {
	return &CaptureDevice{encodingInfo: audio.GetDefaultEncodingInfo()}
}

func (c *CaptureDevice) Acquire(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return audio.ErrDeviceBusy
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return fmt.Errorf("%w: failed to initialize audio context: %v", audio.ErrNoDevice, err)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * c.encodingInfo.Channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(c.encodingInfo.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(c.encodingInfo.Channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.device, err = malgo.InitDevice(audioCtx.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			if c.onAudio != nil {
				c.onAudio(pInput[:n])
			}
		},
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("%w: failed to initialize capture device: %v", audio.ErrNoDevice, err)
	}

	c.audioContext = audioCtx
	return nil
}

func (c *CaptureDevice) Start(_ context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("capture device not acquired")
	} else if c.device.IsStarted() {
		return nil
	}

	c.onAudio = onAudio
	if err := c.device.Start(); err != nil {
		c.onAudio = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	c.onAudio = nil
	return nil
}

// Release tears down the device and audio context. Safe to call when not
// acquired.
func (c *CaptureDevice) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}

	c.onAudio = nil
	return nil
}

func (c *CaptureDevice) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
