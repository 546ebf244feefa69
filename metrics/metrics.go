// Package metrics declares the opencensus measures and views of the market
// server.
package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 1, 2, 3, 5, 8,
	10, 20, 50, 100, 200, 500, 1000, 2000, 5000,
)

var bytesDistribution = view.Distribution(
	0, 64, 256, 1024, 4096, 16384, 65536, 262144,
)

// Tags
var (
	Method, _ = tag.NewKey("method")
	Status, _ = tag.NewKey("status")
	Reason, _ = tag.NewKey("reason")
)

// Measures
var (
	ConnectionsOpened  = stats.Int64("market/connections_opened", "Accepted agent connections", stats.UnitDimensionless)
	ConnectionsClosed  = stats.Int64("market/connections_closed", "Torn down agent connections", stats.UnitDimensionless)
	MessagesDispatched = stats.Int64("market/messages_dispatched", "Requests dispatched", stats.UnitDimensionless)
	DispatchDuration   = stats.Float64("market/dispatch_ms", "Time to dispatch one request", stats.UnitMilliseconds)
	BytesRead          = stats.Int64("market/bytes_read", "Bytes read from agents", stats.UnitBytes)
	BytesWritten       = stats.Int64("market/bytes_written", "Bytes written to agents", stats.UnitBytes)
)

// Views
var (
	ConnectionsOpenedView = &view.View{
		Measure:     ConnectionsOpened,
		Aggregation: view.Count(),
	}
	ConnectionsClosedView = &view.View{
		Measure:     ConnectionsClosed,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Reason},
	}
	MessagesDispatchedView = &view.View{
		Measure:     MessagesDispatched,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Method, Status},
	}
	DispatchDurationView = &view.View{
		Measure:     DispatchDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Method},
	}
	BytesReadView = &view.View{
		Measure:     BytesRead,
		Aggregation: bytesDistribution,
	}
	BytesWrittenView = &view.View{
		Measure:     BytesWritten,
		Aggregation: bytesDistribution,
	}
)

var DefaultViews = []*view.View{
	ConnectionsOpenedView,
	ConnectionsClosedView,
	MessagesDispatchedView,
	DispatchDurationView,
	BytesReadView,
	BytesWrittenView,
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}
