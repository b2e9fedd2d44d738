package bootstrap

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/chorus-voice/chorus-core/core/bootstrap"

var tracer = otel.Tracer(scopeName)
