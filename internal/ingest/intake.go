package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/trigger"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/kafka"
)

// Intake turns sandbox trigger events into cycles. The event names the raw
// capture and carries the feed descriptor it was captured with.
type Intake struct {
	runner *Runner
	raw    logstore.Backend
	logger *slog.Logger
}

func NewIntake(runner *Runner, raw logstore.Backend) *Intake {
	return &Intake{
		runner: runner,
		raw:    raw,
		logger: slog.Default().With("component", "intake"),
	}
}

// Handle is a kafka.MessageHandler. Only failures that a redelivery could
// fix are returned; a bad event or payload is logged and acknowledged.
func (in *Intake) Handle(ctx context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[trigger.Event](value)
	if err != nil {
		in.logger.Error("discarding undecodable trigger event", "error", err)
		return nil
	}
	_, err = in.Process(ctx, ev)
	if retryable(err) {
		return err
	}
	return nil
}

// Process loads the capture named by ev and runs a cycle over it.
func (in *Intake) Process(ctx context.Context, ev trigger.Event) (Result, error) {
	log := in.logger.With("feed", ev.Feed.FeedName, "bucket", ev.Bucket, "key", ev.Key)
	if err := ev.Feed.Validate(); err != nil {
		log.Error("trigger event carries an invalid feed", "error", err)
		return Result{}, err
	}
	if ev.Bucket == "" || ev.Key == "" {
		err := fmt.Errorf("%w: trigger event without bucket or key", apperrors.ErrInvalidInput)
		log.Error("discarding trigger event", "error", err)
		return Result{}, err
	}

	raw, err := LoadRaw(ctx, in.raw.Bucket(ev.Bucket), ev.Key, ev.Feed.Format)
	if err != nil {
		log.Error("could not load raw capture", "error", err)
		return Result{}, err
	}
	return in.runner.Run(ctx, ev.Feed, raw, ev.Bucket+"/"+ev.Key)
}

func retryable(err error) bool {
	return errors.Is(err, apperrors.ErrStoreUnavailable) ||
		errors.Is(err, apperrors.ErrTimeout) ||
		errors.Is(err, apperrors.ErrCycleInProgress)
}
