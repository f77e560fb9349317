package metrics

import (
	"time"
)

// Instrument starts timing one operation and returns a function to call
// when it finishes. The returned function records the duration and, when
// err is non-nil, the error.
//
//	done := metrics.Instrument(collector, exporter, "resolve")
//	res, err := resolver.Resolve(...)
//	done(err)
func Instrument(collector *Collector, exporter *PrometheusExporter, operation string) func(error) {
	start := time.Now()

	collector.RecordRequest(operation)
	if exporter != nil {
		exporter.RecordRequest(operation)
	}

	return func(err error) {
		duration := time.Since(start).Seconds()
		collector.RecordDuration(operation, duration)
		if exporter != nil {
			exporter.RecordDuration(operation, duration)
		}

		if err != nil {
			collector.RecordError(operation)
			if exporter != nil {
				exporter.RecordError(operation)
			}
		}
	}
}
