package portaudio

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/chorus-voice/chorus-core/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)
