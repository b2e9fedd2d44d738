package audio

import "encoding/binary"

// GainStage is the lossless pass-through routing stage inserted between the
// raw capture stream and the outbound track. Some remote VAD implementations
// clip the first syllables of an utterance when the capture stream is wired
// straight to the track; routing frames through an explicit unity-gain stage
// keeps the stream continuously primed so utterance onsets survive intact.
//
// Gain 1.0 is a straight copy. Any other gain is applied per-sample with
// clamping, though the session core always runs it at unity.
type GainStage struct {
	gain float64
	out  []byte
}

// NewGainStage creates a pass-through stage at unity gain.
func NewGainStage() *GainStage {
	return &GainStage{gain: 1.0}
}

// SetGain adjusts the stage's gain factor.
func (g *GainStage) SetGain(gain float64) { g.gain = gain }

// Process routes one PCM16 frame through the stage. The returned slice is
// reused across calls; callers must not retain it.
func (g *GainStage) Process(frame []byte) []byte {
	if cap(g.out) < len(frame) {
		g.out = make([]byte, len(frame))
	}
	g.out = g.out[:len(frame)]

	if g.gain == 1.0 {
		copy(g.out, frame)
		return g.out
	}

	for i := 0; i+1 < len(frame); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(frame[i:]))) * g.gain
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		binary.LittleEndian.PutUint16(g.out[i:], uint16(int16(sample)))
	}
	if len(frame)%2 == 1 {
		g.out[len(frame)-1] = frame[len(frame)-1]
	}
	return g.out
}
