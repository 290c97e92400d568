package service

import (
	"context"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/queue"
)

// EventPublisher receives facts about committed seat changes.
// queue.RabbitPublisher and queue.KafkaPublisher implement it.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SeatEvent) error
}

const publishTimeout = 2 * time.Second

// publish delivers ev on a best-effort basis.  It detaches from the
// caller's cancellation so an outcome that is already decided still gets
// its event; failures are logged and never change the outcome.
func (c *Coordinator) publish(ctx context.Context, ev queue.SeatEvent) {
	if c.events == nil {
		return
	}
	ev.OccurredAt = c.now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.events.Publish(pctx, ev); err != nil {
		c.log.Warnf("publish %s %s/%s: %v", ev.Type, ev.MovieName, ev.Seat, err)
	}
}
