// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package restoremetrics instruments a restore run: counters for
// tuples and log entries decoded, errors encountered, and a histogram
// of per-fragment decode duration.
package restoremetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder holds the counters and histograms one restore run updates.
type Recorder struct {
	shutdown func(context.Context) error

	TuplesDecoded     metric.Int64Counter
	LogEntriesDecoded metric.Int64Counter
	DecodeErrors      metric.Int64Counter
	FragmentDuration  metric.Float64Histogram
}

// New builds a Recorder backed by an in-process OTel SDK MeterProvider
// registered with the reader the caller built (for example a
// Prometheus or OTLP exporter wrapped in a periodic reader), or nil
// for a provider with no exporter attached (metrics are recorded but
// never read) when the caller only wants the instrument API without
// shipping data anywhere.
func New(reader sdkmetric.Reader) (*Recorder, error) {
	var opts []sdkmetric.Option
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/clusterdb/backupreader")

	tuples, err := meter.Int64Counter("restore.tuples_decoded",
		metric.WithDescription("tuples decoded from data files"))
	if err != nil {
		return nil, fmt.Errorf("create tuples_decoded counter: %w", err)
	}
	logEntries, err := meter.Int64Counter("restore.log_entries_decoded",
		metric.WithDescription("log entries decoded from log files"))
	if err != nil {
		return nil, fmt.Errorf("create log_entries_decoded counter: %w", err)
	}
	decodeErrors, err := meter.Int64Counter("restore.decode_errors",
		metric.WithDescription("errors encountered while decoding a backup file set"))
	if err != nil {
		return nil, fmt.Errorf("create decode_errors counter: %w", err)
	}
	fragmentDuration, err := meter.Float64Histogram("restore.fragment_decode_duration",
		metric.WithDescription("time spent decoding one fragment's tuples"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create fragment_decode_duration histogram: %w", err)
	}

	return &Recorder{
		shutdown:          provider.Shutdown,
		TuplesDecoded:     tuples,
		LogEntriesDecoded: logEntries,
		DecodeErrors:      decodeErrors,
		FragmentDuration:  fragmentDuration,
	}, nil
}

// Shutdown flushes and releases the underlying MeterProvider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.shutdown == nil {
		return nil
	}
	return r.shutdown(ctx)
}

// TimeFragment records how long fn took against FragmentDuration.
func (r *Recorder) TimeFragment(ctx context.Context, fn func() error) error {
	start := time.Now()
	err := fn()
	r.FragmentDuration.Record(ctx, time.Since(start).Seconds())
	return err
}
