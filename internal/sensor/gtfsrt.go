package sensor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
)

// GTFSRTPoller polls a GTFS-realtime VehiclePositions feed and emits the
// tracked vehicle's position whenever its timestamp moves.
type GTFSRTPoller struct {
	url       string
	client    *http.Client
	interval  time.Duration
	vehicleID string
	// activeTrip names the trip to follow when no vehicle is configured.
	activeTrip func() (string, bool)
	metrics    Metrics

	last map[string]uint64
}

func NewGTFSRTPoller(url string, client *http.Client, interval time.Duration, vehicleID string, activeTrip func() (string, bool), m Metrics) *GTFSRTPoller {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &GTFSRTPoller{
		url:        url,
		client:     client,
		interval:   interval,
		vehicleID:  vehicleID,
		activeTrip: activeTrip,
		metrics:    orNop(m),
		last:       make(map[string]uint64),
	}
}

func (p *GTFSRTPoller) Run(ctx context.Context, out chan<- gtfs.PositionFix) error {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	log.Info().Str("url", p.url).Str("vehicle", p.vehicleID).Dur("interval", p.interval).Msg("polling vehicle positions")

	for {
		if err := p.poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("url", p.url).Msg("vehicle position poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (p *GTFSRTPoller) poll(ctx context.Context, out chan<- gtfs.PositionFix) error {
	feed, err := p.fetchFeed(ctx)
	if err != nil {
		return err
	}
	tripID := ""
	if p.vehicleID == "" && p.activeTrip != nil {
		var ok bool
		if tripID, ok = p.activeTrip(); !ok {
			return nil
		}
	}
	for _, fix := range p.fresh(FixesFromFeed(feed, p.vehicleID, tripID)) {
		if err := deliver(ctx, out, fix); err != nil {
			return err
		}
		p.metrics.FixReceived(SourceGTFSRT)
	}
	return nil
}

// fresh drops fixes whose vehicle timestamp was already delivered.
func (p *GTFSRTPoller) fresh(fixes []gtfs.PositionFix) []gtfs.PositionFix {
	out := fixes[:0]
	for _, f := range fixes {
		ts := uint64(f.Timestamp.Unix())
		if prev, ok := p.last[f.VehicleID]; ok && prev == ts {
			p.metrics.FixDropped("stale")
			continue
		}
		p.last[f.VehicleID] = ts
		out = append(out, f)
	}
	return out
}

func (p *GTFSRTPoller) fetchFeed(ctx context.Context) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}
	return feed, nil
}

// FixesFromFeed extracts positioned vehicles from feed. A non-empty
// vehicleID keeps only that vehicle, otherwise a non-empty tripID keeps only
// vehicles serving that trip. Vehicles without a timestamp take the feed
// header's.
func FixesFromFeed(feed *gtfsrt.FeedMessage, vehicleID, tripID string) []gtfs.PositionFix {
	headerTS := feed.GetHeader().GetTimestamp()
	var out []gtfs.PositionFix
	for _, entity := range feed.GetEntity() {
		v := entity.GetVehicle()
		if v == nil || v.GetPosition() == nil {
			continue
		}
		id := v.GetVehicle().GetId()
		if id == "" {
			id = "entity:" + entity.GetId()
		}
		if vehicleID != "" && id != vehicleID && v.GetVehicle().GetLabel() != vehicleID {
			continue
		}
		if vehicleID == "" && tripID != "" && v.GetTrip().GetTripId() != tripID {
			continue
		}
		ts := v.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		pos := v.GetPosition()
		out = append(out, gtfs.PositionFix{
			Coordinate: geo.Coordinate{X: float64(pos.GetLongitude()), Y: float64(pos.GetLatitude())},
			Timestamp:  time.Unix(int64(ts), 0).UTC(),
			TripID:     v.GetTrip().GetTripId(),
			RouteID:    v.GetTrip().GetRouteId(),
			VehicleID:  id,
			Bearing:    float64(pos.GetBearing()),
			SpeedMps:   float64(pos.GetSpeed()),
		})
	}
	return out
}
