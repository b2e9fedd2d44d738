package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func pcm16Frame(samples ...int16) []byte {
	frame := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return frame
}

func TestUnityGainIsLossless(t *testing.T) {
	stage := NewGainStage()
	frame := pcm16Frame(0, 1000, -1000, 32767, -32768)

	got := stage.Process(frame)
	if !bytes.Equal(got, frame) {
		t.Fatalf("expected a lossless pass-through, got %v", got)
	}
}

func TestGainScalesSamples(t *testing.T) {
	stage := NewGainStage()
	stage.SetGain(0.5)

	got := stage.Process(pcm16Frame(1000, -2000))
	if sample := int16(binary.LittleEndian.Uint16(got)); sample != 500 {
		t.Fatalf("expected 500, got %d", sample)
	}
	if sample := int16(binary.LittleEndian.Uint16(got[2:])); sample != -1000 {
		t.Fatalf("expected -1000, got %d", sample)
	}
}

func TestGainClampsInsteadOfWrapping(t *testing.T) {
	stage := NewGainStage()
	stage.SetGain(4.0)

	got := stage.Process(pcm16Frame(20000, -20000))
	if sample := int16(binary.LittleEndian.Uint16(got)); sample != 32767 {
		t.Fatalf("expected clamping at 32767, got %d", sample)
	}
	if sample := int16(binary.LittleEndian.Uint16(got[2:])); sample != -32768 {
		t.Fatalf("expected clamping at -32768, got %d", sample)
	}
}

func TestProcessReusesBufferAcrossCalls(t *testing.T) {
	stage := NewGainStage()

	first := stage.Process(pcm16Frame(1, 2, 3, 4))
	second := stage.Process(pcm16Frame(5, 6))

	if len(second) != 4 {
		t.Fatalf("expected the output sized to the input, got %d bytes", len(second))
	}
	if &first[0] != &second[0] {
		t.Fatalf("expected the internal buffer reused")
	}
}

func TestBytesPerFrame(t *testing.T) {
	if got := GetDefaultEncodingInfo().BytesPerFrame(); got != 2 {
		t.Fatalf("expected 2 bytes per mono PCM16 frame, got %d", got)
	}

	stereo := EncodingInfo{SampleRate: 48000, Channels: 2, Format: EncodingPCM16}
	if got := stereo.BytesPerFrame(); got != 4 {
		t.Fatalf("expected 4 bytes per stereo PCM16 frame, got %d", got)
	}

	ulaw := EncodingInfo{SampleRate: 8000, Channels: 1, Format: EncodingG711ULaw}
	if got := ulaw.BytesPerFrame(); got != 1 {
		t.Fatalf("expected 1 byte per ulaw frame, got %d", got)
	}
}
