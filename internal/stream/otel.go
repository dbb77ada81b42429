package stream

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/rigstream/internal/stream"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
