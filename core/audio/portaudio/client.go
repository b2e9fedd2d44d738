// Package portaudio backs the capture capability contract with PortAudio.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/chorus-voice/chorus-core/core/audio"
)

const defaultBufferFrames = 480

// CaptureDevice is an exclusive PortAudio-backed microphone handle
// implementing audio.CaptureDevice. Capture runs on a reader goroutine that
// polls the blocking stream until Stop or Release.
type CaptureDevice struct {
	bufferFrames int
	encodingInfo audio.EncodingInfo

	stream *portaudio.Stream
	in     []int16

	stopReader chan struct{}
	readerDone chan struct{}

	mu sync.Mutex
}

func NewCaptureDevice() *CaptureDevice {
	return &CaptureDevice{
		bufferFrames: defaultBufferFrames,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}
}

func (c *CaptureDevice) Acquire(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return audio.ErrDeviceBusy
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: failed to initialize portaudio: %v", audio.ErrNoDevice, err)
	}

	c.in = make([]int16, c.bufferFrames)
	stream, err := portaudio.OpenDefaultStream(
		c.encodingInfo.Channels, 0, float64(c.encodingInfo.SampleRate), c.bufferFrames, c.in,
	)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: failed to open capture stream: %v", audio.ErrNoDevice, err)
	}

	c.stream = stream
	return nil
}

func (c *CaptureDevice) Start(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return fmt.Errorf("capture device not acquired")
	} else if c.stopReader != nil {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	c.stopReader = make(chan struct{})
	c.readerDone = make(chan struct{})
	go c.readLoop(ctx, onAudio, c.stopReader, c.readerDone)
	return nil
}

func (c *CaptureDevice) readLoop(ctx context.Context, onAudio func(audio []byte), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
			if err := c.stream.Read(); err != nil {
				logger.Warn("failed to read from capture stream", "error", err)
				continue
			}

			frame := bytes.Buffer{}
			_ = binary.Write(&frame, binary.LittleEndian, c.in)
			onAudio(frame.Bytes())
		}
	}
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *CaptureDevice) stopLocked() error {
	if c.stopReader == nil {
		return nil
	}

	close(c.stopReader)
	<-c.readerDone
	c.stopReader = nil
	c.readerDone = nil

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture stream: %w", err)
	}
	return nil
}

func (c *CaptureDevice) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}

	if err := c.stopLocked(); err != nil {
		logger.Warn("failed to stop capture stream on release", "error", err)
	}

	if err := c.stream.Close(); err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	c.stream = nil
	return portaudio.Terminate()
}

func (c *CaptureDevice) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
