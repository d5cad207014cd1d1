// Package sensor provides the location sources that feed position fixes to a
// tracking session.
package sensor

import (
	"context"

	"bus-tracker/internal/gtfs"
)

// Source names, also used as metric labels.
const (
	SourceNATS   = "nats"
	SourceGTFSRT = "gtfsrt"
	SourceReplay = "replay"
)

// Source writes fixes to out until ctx is done or the source runs dry. It
// never closes out.
type Source interface {
	Run(ctx context.Context, out chan<- gtfs.PositionFix) error
}

type Metrics interface {
	FixReceived(source string)
	FixDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) FixReceived(string) {}
func (nopMetrics) FixDropped(string)  {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func deliver(ctx context.Context, out chan<- gtfs.PositionFix, fix gtfs.PositionFix) error {
	select {
	case out <- fix:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
