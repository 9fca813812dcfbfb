package engine

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/hupe1980/relaymesh/engine"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)
