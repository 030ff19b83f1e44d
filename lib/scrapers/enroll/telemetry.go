package enroll

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("scrapers/enroll")
var meter = otel.Meter("scrapers/enroll")

var refreshCounter, _ = meter.Int64Counter(
	"clearance_refresh_total",
	metric.WithDescription("The total amount of times the clearance credential has been refreshed."),
)

var fetchExhaustedCounter, _ = meter.Int64Counter(
	"fetch_exhausted_total",
	metric.WithDescription("The total amount of fetches that ran out of retry attempts."),
)
