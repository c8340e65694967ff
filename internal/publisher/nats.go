// Package publisher mirrors each feed cycle's changes onto NATS subjects.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"livedepartures/internal/domain"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes trip updates to <prefix>.trips.<trip_id> and a
// stop's changed departures to <prefix>.stops.<stop_id>.
type NATSPublisher struct {
	nc      *nats.Conn
	conn    Conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats_publisher")
	setConnected := func(connected bool) {
		if m != nil {
			m.NATSSetConnected(connected)
		}
	}

	nc, err := nats.Connect(url,
		nats.Name("livedepartures"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	setConnected(true)

	p := newPublisher(nc, prefix, m, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(conn Conn, prefix string, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: subjectToken(prefix), metrics: m, logger: logger}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Broadcast publishes one cycle. Publishing is buffered by the client, so
// this does not wait on the network.
func (p *NATSPublisher) Broadcast(delta domain.FeedDelta) {
	failed := 0
	for _, u := range delta.Trips {
		if err := p.publish(fmt.Sprintf("%s.trips.%d", p.prefix, u.TripID), u); err != nil {
			failed++
		}
	}
	for stopID, departures := range delta.Departures {
		if err := p.publish(fmt.Sprintf("%s.stops.%d", p.prefix, stopID), departures); err != nil {
			failed++
		}
	}
	if failed > 0 {
		p.logger.Warn("nats publish failures", "cycle_id", delta.CycleID, "failed", failed)
	}
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, wildcards or empty segments
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = strings.Trim(repl.Replace(s), ".")
	if s == "" {
		s = "_"
	}
	return s
}
