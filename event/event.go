package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/persist"
	sentryutil "github.com/SplitFi/go-oasis/service/sentry"
)

const sentryEventContextName = "event context"

// Publisher delivers listing events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, evt persist.ListingEvent) error
}

// Dispatch publishes the event and reports failures instead of returning them. Ledger state is
// already committed when events are dispatched, so a delivery failure must not fail the caller.
func Dispatch(ctx context.Context, pub Publisher, evt persist.ListingEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.For(ctx).WithError(err).WithFields(logrus.Fields{
			"eventID":   evt.ID,
			"action":    evt.Action,
			"listingID": evt.ListingID,
		}).Error("failed to publish listing event")
		sentryutil.ReportError(ctx, err, sentryutil.WithContext(sentryEventContextName, map[string]interface{}{
			"ID":        evt.ID.String(),
			"Action":    string(evt.Action),
			"ListingID": int64(evt.ListingID),
		}))
	}
}

// LogPublisher writes events to the log
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, evt persist.ListingEvent) error {
	logger.For(ctx).WithFields(logrus.Fields{
		"eventID":   evt.ID,
		"action":    evt.Action,
		"listingID": evt.ListingID,
		"asset":     evt.Asset.String(),
		"seller":    evt.Seller,
		"buyer":     evt.Buyer,
		"price":     evt.Price,
	}).Info("listing event")
	return nil
}

// NATSPublisher publishes events as JSON on listings.<action> subjects
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url. prefix is prepended to every subject.
func NewNATSPublisher(url, prefix, name string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.For(nil).WithError(err).Warn("disconnected from nats")
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt persist.ListingEvent) error {
	subject, err := evt.Subject()
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.prefix+subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// MultiPublisher publishes to every publisher and joins their errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, evt persist.ListingEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
