package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
)

// PositionMessage is the JSON a vehicle simulator publishes per position.
type PositionMessage struct {
	TripID    string    `json:"tripId"`
	RouteID   string    `json:"routeId"`
	VehicleID string    `json:"vehicleId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
	Bearing   float64   `json:"bearing"`
	Progress  float64   `json:"progress"`
	SpeedMps  float64   `json:"speedMps"`
}

// DecodePosition turns a PositionMessage into a fix. Messages without a
// usable coordinate are rejected; a missing timestamp becomes now.
func DecodePosition(data []byte) (gtfs.PositionFix, error) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return gtfs.PositionFix{}, err
	}
	if msg.Lat == nil || msg.Lon == nil {
		return gtfs.PositionFix{}, errors.New("position without coordinates")
	}
	if *msg.Lat < -90 || *msg.Lat > 90 || *msg.Lon < -180 || *msg.Lon > 180 {
		return gtfs.PositionFix{}, fmt.Errorf("coordinate out of range: %f,%f", *msg.Lat, *msg.Lon)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return gtfs.PositionFix{
		Coordinate: geo.Coordinate{X: *msg.Lon, Y: *msg.Lat},
		Timestamp:  ts,
		TripID:     msg.TripID,
		RouteID:    msg.RouteID,
		VehicleID:  msg.VehicleID,
		Bearing:    msg.Bearing,
		SpeedMps:   msg.SpeedMps,
	}, nil
}

// ChanSubscriber is satisfied by *nats.Conn.
type ChanSubscriber interface {
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
}

type NATSSource struct {
	sub     ChanSubscriber
	subject string
	metrics Metrics
}

func NewNATSSource(sub ChanSubscriber, subject string, m Metrics) *NATSSource {
	return &NATSSource{sub: sub, subject: subject, metrics: orNop(m)}
}

func (s *NATSSource) Run(ctx context.Context, out chan<- gtfs.PositionFix) error {
	msgs := make(chan *nats.Msg, 64)
	subscription, err := s.sub.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer func() { _ = subscription.Unsubscribe() }()
	log.Info().Str("subject", s.subject).Msg("listening for vehicle positions")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			fix, err := DecodePosition(msg.Data)
			if err != nil {
				s.metrics.FixDropped("decode")
				log.Debug().Err(err).Str("subject", msg.Subject).Msg("dropping position message")
				continue
			}
			if err := deliver(ctx, out, fix); err != nil {
				return err
			}
			s.metrics.FixReceived(SourceNATS)
		}
	}
}
