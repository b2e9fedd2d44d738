// Package audio defines the capture/playback capability contracts the session
// core depends on, without binding to a concrete backend. Real devices live in
// the miniaudio and portaudio subpackages; tests substitute fakes.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceBusy is returned by Acquire when another holder has not released
// the device yet.
var ErrDeviceBusy = errors.New("capture device busy")

// ErrNoDevice is returned by Acquire when no capture hardware is available or
// access to it was denied.
var ErrNoDevice = errors.New("capture device unavailable")

// CaptureDevice is an exclusive handle over the local microphone. Acquire
// must be paired with exactly one Release; acquiring an already-held device
// fails with ErrDeviceBusy.
type CaptureDevice interface {
	Acquire(ctx context.Context) error
	// Start begins delivering raw frames in the device's encoding. Frames
	// are only valid for the duration of the callback.
	Start(ctx context.Context, onAudio func(audio []byte)) error
	Stop() error
	Release() error
	EncodingInfo() EncodingInfo
}

// PlaybackDevice plays remote audio. The session core only ever references
// it (start/stop/write), scheduling stays with the backend.
type PlaybackDevice interface {
	Start(ctx context.Context) error
	Write(audio []byte) error
	Stop() error
}
