// Package archive captures raw feed payloads into the raw bucket and hands
// each capture to the downstream stages the feed is piped to.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/trigger"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
)

// Capture results.
const (
	ResultStored       = "stored"
	ResultNotRetrieved = "not_retrieved"
	ResultBadStatus    = "bad_status"
)

// Capture reports what happened to one feed in one pass.
type Capture struct {
	Feed       feed.Descriptor
	Key        string
	Result     string
	StatusCode int
	Triggered  []trigger.Stage
	Err        error
}

// Options wires an Archiver.
type Options struct {
	Fetcher     Fetcher
	Raw         logstore.ObjectStore
	RawBucket   string
	Trigger     trigger.Trigger
	Metrics     *metrics.Metrics
	Parallelism int
	Now         func() time.Time
}

// Archiver writes raw captures and fires downstream triggers.
type Archiver struct {
	fetcher     Fetcher
	raw         logstore.ObjectStore
	bucket      string
	trigger     trigger.Trigger
	metrics     *metrics.Metrics
	parallelism int
	now         func() time.Time
	logger      *slog.Logger
}

func New(opts Options) *Archiver {
	if opts.Trigger == nil {
		opts.Trigger = trigger.Nop{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Archiver{
		fetcher:     opts.Fetcher,
		raw:         opts.Raw,
		bucket:      opts.RawBucket,
		trigger:     opts.Trigger,
		metrics:     opts.Metrics,
		parallelism: opts.Parallelism,
		now:         opts.Now,
		logger:      slog.Default().With("component", "archiver"),
	}
}

// Capture fetches one feed and stores the bytes under its raw key. A
// publisher answering anything but 200 is logged and skipped: nothing is
// stored and no stage is triggered. A fetch that fails outright leaves a
// sentinel object in place of the capture and returns an error matching
// apperrors.ErrFeedUnavailable. Trigger failures are reported in
// Capture.Err and never undo the stored capture.
func (a *Archiver) Capture(ctx context.Context, d feed.Descriptor) (Capture, error) {
	retrieved := a.now().UTC()
	key := partition.Raw(d, retrieved)
	c := Capture{Feed: d, Key: key.String()}
	log := a.logger.With("state", d.State, "feed", d.FeedName)

	if d.URL == "" {
		return c, fmt.Errorf("%w: feed %s has no url", apperrors.ErrInvalidInput, d.ID())
	}

	body, err := a.fetcher.Fetch(ctx, d)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.Result = ResultBadStatus
			c.StatusCode = statusErr.StatusCode
			a.countCapture(d, c.Result)
			log.Warn("feed answered with non-200 status, skipping triggers", "status", statusErr.StatusCode, "url", d.URL)
			return c, nil
		}

		c.Key = key.NotRetrieved().String()
		c.Result = ResultNotRetrieved
		a.countCapture(d, c.Result)
		log.Error("could not retrieve feed", "url", d.URL, "retrieved_at", retrieved, "error", err)

		fetchErr := fmt.Errorf("%w: %s: %w", apperrors.ErrFeedUnavailable, d.ID(), err)
		note := []byte(fmt.Sprintf("The feed at %s.", retrieved.Format(time.RFC3339Nano)))
		if putErr := a.raw.Put(ctx, c.Key, note); putErr != nil {
			return c, errors.Join(fetchErr, fmt.Errorf("writing sentinel %s: %w", c.Key, putErr))
		}
		return c, fetchErr
	}

	if err := a.raw.Put(ctx, c.Key, body); err != nil {
		return c, fmt.Errorf("storing capture %s: %w", c.Key, err)
	}
	c.Result = ResultStored
	a.countCapture(d, c.Result)
	log.Info("raw feed captured", "key", c.Key, "bytes", len(body))

	ev := trigger.Event{Feed: d, Bucket: a.bucket, Key: c.Key}
	var triggerErrs []error
	for _, stage := range stagesFor(d) {
		err := a.trigger.Fire(ctx, stage, ev)
		a.countTrigger(stage, err)
		if err != nil {
			log.Error("trigger failed", "stage", stage, "error", err)
			triggerErrs = append(triggerErrs, err)
			continue
		}
		c.Triggered = append(c.Triggered, stage)
	}
	c.Err = errors.Join(triggerErrs...)
	return c, nil
}

func stagesFor(d feed.Descriptor) []trigger.Stage {
	var stages []trigger.Stage
	if d.PipedToSandbox {
		stages = append(stages, trigger.StageSandbox)
	}
	if d.PipedToSocrata {
		stages = append(stages, trigger.StageSocrata)
	}
	return stages
}

// CaptureAll captures every feed once. A failing feed does not stop the
// others; its error is carried in the returned Capture.
func (a *Archiver) CaptureAll(ctx context.Context, feeds []feed.Descriptor) []Capture {
	out := make([]Capture, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for i, d := range feeds {
		g.Go(func() error {
			c, err := a.Capture(gctx, d)
			if err != nil {
				c.Err = errors.Join(err, c.Err)
			}
			out[i] = c
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Run captures all feeds immediately and then on every interval tick until
// ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, feeds []feed.Descriptor, interval time.Duration) {
	a.logger.Info("archive loop started", "feeds", len(feeds), "interval", interval)
	a.pass(ctx, feeds)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.pass(ctx, feeds)
		case <-ctx.Done():
			a.logger.Info("archive loop stopped")
			return
		}
	}
}

func (a *Archiver) pass(ctx context.Context, feeds []feed.Descriptor) {
	var stored, failed int
	for _, c := range a.CaptureAll(ctx, feeds) {
		if c.Result == ResultStored {
			stored++
		}
		if c.Err != nil {
			failed++
		}
	}
	a.logger.Info("archive pass complete", "feeds", len(feeds), "stored", stored, "failed", failed)
}

func (a *Archiver) countCapture(d feed.Descriptor, result string) {
	if a.metrics != nil {
		a.metrics.RawCapturesTotal.WithLabelValues(d.FeedName, result).Inc()
	}
}

func (a *Archiver) countTrigger(stage trigger.Stage, err error) {
	if a.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.metrics.TriggersTotal.WithLabelValues(string(stage), result).Inc()
}
