package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subject layout: {prefix}.{kind}.{venueID}
// Examples:
//   - oms.events.order_update.binance-main
//   - oms.events.disconnected.mt5-bridge
//   - oms.events.mode_change._ (no originating venue)

// DefaultSubjectPrefix is used when the config leaves the prefix empty.
const DefaultSubjectPrefix = "oms.events"

// Bridge mirrors every hub event onto NATS so that processes outside the
// routing layer (dashboards, strategy engines) can observe venue activity.
type Bridge struct {
	conn   *nats.Conn
	sub    *Subscription
	prefix string
	log    *logrus.Entry
	done   chan struct{}
}

// NewBridge connects to NATS and starts forwarding hub events.
func NewBridge(url, prefix string, hub *Hub) (*Bridge, error) {
	log := logrus.WithField("component", "nats-bridge")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	opts := []nats.Option{
		nats.Name("oms-event-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Errorf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &Bridge{
		conn:   conn,
		sub:    hub.Subscribe(256),
		prefix: prefix,
		log:    log,
		done:   make(chan struct{}),
	}
	go b.run()

	return b, nil
}

func (b *Bridge) run() {
	defer close(b.done)

	for ev := range b.sub.C {
		venue := ev.VenueID
		if venue == "" {
			venue = "_"
		}
		subject := fmt.Sprintf("%s.%s.%s", b.prefix, ev.Kind, venue)

		data, err := json.Marshal(ev)
		if err != nil {
			b.log.WithError(err).WithField("kind", ev.Kind).Error("failed to marshal event")
			continue
		}
		if err := b.conn.Publish(subject, data); err != nil {
			b.log.WithError(err).WithField("subject", subject).Error("failed to publish event")
		}
	}
}

// Close stops forwarding and drains the NATS connection.
func (b *Bridge) Close() {
	b.sub.Unsubscribe()
	<-b.done
	if err := b.conn.Drain(); err != nil {
		b.log.WithError(err).Warn("NATS drain failed")
		b.conn.Close()
	}
}
