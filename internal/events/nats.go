package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/service"
)

// NATSConn is the subset of *nats.Conn the publisher uses.
type NATSConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes changes to <prefix>.<event>.
type NATSPublisher struct {
	conn   NATSConn
	prefix string
	log    *logrus.Logger
}

// DialNATS connects to url, reconnecting indefinitely once connected.
func DialNATS(url, name string, log *logrus.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return conn, nil
}

func NewNATSPublisher(conn NATSConn, prefix string, log *logrus.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefixOrDefault(prefix), log: log}
}

func (p *NATSPublisher) Subject(event service.EventType) string {
	return p.prefix + "." + string(event)
}

func (p *NATSPublisher) HandleEvent(_ context.Context, change service.Change) error {
	if change.Event.IsPre() {
		return nil
	}
	payload, err := encode(change)
	if err != nil {
		return err
	}
	subject := p.Subject(change.Event)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.log.WithFields(logrus.Fields{"subject": subject, "change_id": change.ID}).Debug("change published")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

var _ service.EventHandler = (*NATSPublisher)(nil)
