package audio

// The realtime endpoint consumes and produces 24kHz mono PCM16.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	DefaultFormat     = "pcm16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Format:     encodingFormat(DefaultFormat),
	}
}

type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerFrame is the size of one sample frame across all channels.
func (e EncodingInfo) BytesPerFrame() int {
	channels := e.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	return e.Format.ByteSize() * channels
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingPCM16:
		return 2
	case EncodingG711ULaw, EncodingG711ALaw:
		return 1
	}
	return -1
}

const (
	EncodingPCM16    encodingFormat = "pcm16"
	EncodingG711ULaw encodingFormat = "g711_ulaw"
	EncodingG711ALaw encodingFormat = "g711_alaw"
)
