package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS and keeps m's connected gauge in step with the
// connection state.
func Connect(url string, m PublisherMetrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

// NewNATSPublisher publishes display events under prefix.
func NewNATSPublisher(nc Conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logSubjects: logSubjects, metrics: m}
}

// StopPassedMessage is published once per passed stop.
type StopPassedMessage struct {
	SessionID string    `json:"sessionId"`
	TripID    string    `json:"tripId"`
	RouteID   string    `json:"routeId"`
	StopID    string    `json:"stopId"`
	StopName  string    `json:"stopName"`
	PassedAt  time.Time `json:"passedAt"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	DistanceM float64   `json:"distanceM"` // fix to the passed stop
}

// BoardSubject is where boards for a trip are published.
func (p *NATSPublisher) BoardSubject(routeID, tripID string) string {
	return p.prefix + "." + subjectToken(routeID) + "." + subjectToken(tripID)
}

func (p *NATSPublisher) TripStarted(_ context.Context, sum tracker.Summary) {
	_ = p.publish(p.BoardSubject(sum.RouteID, sum.TripID)+".started", sum)
}

func (p *NATSPublisher) StopPassed(_ context.Context, sum tracker.Summary, stop gtfs.ScheduledStop, fix gtfs.PositionFix, distance float64) {
	msg := StopPassedMessage{
		SessionID: sum.SessionID,
		TripID:    sum.TripID,
		RouteID:   sum.RouteID,
		StopID:    stop.Stop.StopID,
		StopName:  stop.Stop.StopName,
		PassedAt:  fix.Timestamp,
		Lat:       fix.Y,
		Lon:       fix.X,
		DistanceM: distance,
	}
	_ = p.publish(p.BoardSubject(sum.RouteID, sum.TripID)+".stops", msg)
}

func (p *NATSPublisher) BoardUpdated(_ context.Context, b tracker.Board) {
	_ = p.publish(p.BoardSubject(b.RouteID, b.TripID), b)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
