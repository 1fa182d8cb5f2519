package session

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-session/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnsCounter, _ = meter.Int64Counter("ema.session.turns",
		metric.WithDescription("Completed turns appended to the transcript"))
	duplicatesCounter, _ = meter.Int64Counter("ema.session.duplicates",
		metric.WithDescription("Completed turns suppressed as duplicate deliveries"))
	audioDecodeFailuresCounter, _ = meter.Int64Counter("ema.session.audio_decode_failures",
		metric.WithDescription("Turn audio payloads that could not be decoded"))
	reconnectsCounter, _ = meter.Int64Counter("ema.session.reconnects",
		metric.WithDescription("Transport re-establishments after a lost connection"))
)
