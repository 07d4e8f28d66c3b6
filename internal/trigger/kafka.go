package trigger

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// KafkaTrigger publishes events to one topic per stage, keyed by feed name so
// a feed's triggers stay ordered on one partition.
type KafkaTrigger struct {
	publishers map[Stage]Publisher
}

func NewKafkaTrigger(publishers map[Stage]Publisher) *KafkaTrigger {
	return &KafkaTrigger{publishers: publishers}
}

func (t *KafkaTrigger) Fire(ctx context.Context, stage Stage, ev Event) error {
	p, ok := t.publishers[stage]
	if !ok {
		return fmt.Errorf("%w: no topic for stage %s", apperrors.ErrTriggerFailed, stage)
	}
	if err := p.Publish(ctx, kafka.Event{Key: ev.Feed.FeedName, Value: ev}); err != nil {
		return fmt.Errorf("%w: %s for %s: %w", apperrors.ErrTriggerFailed, stage, ev.Feed.FeedName, err)
	}
	return nil
}

func (t *KafkaTrigger) Close() error {
	var errs []error
	for _, p := range t.publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
