// Package ingest runs ingestion cycles: adapt one retrieval of a feed, derive
// a partition key per activity, reconcile each activity against its log and
// persist the result. Activities touch disjoint keys and are fanned out up to
// the configured parallelism.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/tracing"
)

// Cycle statuses recorded in metrics and the ledger.
const (
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusSchemaError = "schema_error"
	StatusLocked      = "locked"
)

// Result describes one finished cycle.
type Result struct {
	CycleID    string    `json:"cycle_id"`
	State      string    `json:"state"`
	FeedName   string    `json:"feed"`
	Version    string    `json:"version"`
	Source     string    `json:"source,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Summary    Summary   `json:"summary"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Ledger records finished cycles. Failures to record are logged, never
// returned to the caller of Run.
type Ledger interface {
	Record(ctx context.Context, r Result) error
}

// Options wires a Runner.
type Options struct {
	Store       *logstore.LogStore
	Locker      Locker
	Metrics     *metrics.Metrics
	Ledger      Ledger
	Parallelism int
	Timeout     time.Duration
}

// Runner executes ingestion cycles. It holds no per-cycle state and is safe
// for concurrent use across feeds.
type Runner struct {
	store       *logstore.LogStore
	locker      Locker
	metrics     *metrics.Metrics
	ledger      Ledger
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewRunner(opts Options) *Runner {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Runner{
		store:       opts.Store,
		locker:      opts.Locker,
		metrics:     opts.Metrics,
		ledger:      opts.Ledger,
		parallelism: opts.Parallelism,
		timeout:     opts.Timeout,
		logger:      slog.Default().With("component", "ingest"),
	}
}

// task is one activity bound to its partition key.
type task struct {
	key partition.Key
	act schema.ActivityStatus
}

// Run reconciles one decoded retrieval of desc. source names where the
// payload came from and is only recorded. A schema error or store failure
// fails the cycle; partitions already written stay written.
func (r *Runner) Run(ctx context.Context, desc feed.Descriptor, raw map[string]any, source string) (Result, error) {
	res := Result{
		CycleID:   uuid.NewString(),
		State:     desc.State,
		FeedName:  desc.FeedName,
		Version:   desc.Version,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	ctx = logger.WithCycleID(ctx, res.CycleID)
	ctx, span := tracing.StartSpan(ctx, "ingest.cycle", res.CycleID)
	span.SetAttr("feed", desc.FeedName)
	log := logger.FromContext(ctx).With("component", "ingest", "feed", desc.FeedName, "state", desc.State)

	release, err := r.locker.Acquire(ctx, desc.ID())
	if err != nil {
		res.Status = StatusLocked
		if !errors.Is(err, apperrors.ErrCycleInProgress) {
			res.Status = StatusFailed
		}
		return r.finish(ctx, log, span, res, err)
	}
	defer release()

	cctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res.Summary, err = r.cycle(cctx, log, desc, raw)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: cycle exceeded %s: %w", apperrors.ErrTimeout, r.timeout, err)
	}
	switch {
	case err == nil:
		res.Status = StatusOK
	case errors.Is(err, apperrors.ErrSchema):
		res.Status = StatusSchemaError
	default:
		res.Status = StatusFailed
	}
	return r.finish(ctx, log, span, res, err)
}

func (r *Runner) cycle(ctx context.Context, log *slog.Logger, desc feed.Descriptor, raw map[string]any) (Summary, error) {
	var sum Summary

	adapter, err := schema.Resolve(desc.Version)
	if err != nil {
		return sum, err
	}
	nf, err := adapter.Adapt(raw)
	if err != nil {
		return sum, err
	}
	sum.Activities = len(nf.Activities)

	tasks, planned := r.plan(ctx, log, desc, nf)
	sum.Merge(planned)

	results := make([]Summary, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, t := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s, err := r.reconcile(gctx, log, desc, nf, t)
			results[i] = s
			return err
		})
	}
	waitErr := g.Wait()
	for _, s := range results {
		sum.Merge(s)
	}
	if waitErr != nil {
		return sum, waitErr
	}
	return sum, ctx.Err()
}

// plan derives keys and collapses activities that share a key to the last
// one reported, keeping first-seen key order.
func (r *Runner) plan(ctx context.Context, log *slog.Logger, desc feed.Descriptor, nf *schema.NormalizedFeed) ([]task, Summary) {
	var sum Summary
	index := make(map[string]int, len(nf.Activities))
	tasks := make([]task, 0, len(nf.Activities))
	for _, act := range nf.Activities {
		key, err := partition.ForActivity(desc, nf, act)
		if err != nil {
			sum.KeyErrors++
			log.WarnContext(ctx, "skipping activity", "index", act.Index, "error", err)
			if r.metrics != nil {
				r.metrics.KeyErrors.WithLabelValues(desc.FeedName).Inc()
			}
			continue
		}
		if i, ok := index[key.String()]; ok {
			sum.Superseded++
			log.DebugContext(ctx, "activity superseded by a later one with the same key",
				"key", key.String(), "index", tasks[i].act.Index, "by", act.Index)
			tasks[i].act = act
			continue
		}
		index[key.String()] = len(tasks)
		tasks = append(tasks, task{key: key, act: act})
	}
	return tasks, sum
}

// reconcile handles one activity. Only store failures are returned as
// errors; anything else fails the activity and is counted.
func (r *Runner) reconcile(ctx context.Context, log *slog.Logger, desc feed.Descriptor, nf *schema.NormalizedFeed, t task) (Summary, error) {
	var sum Summary
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	key := t.key.String()
	ctx, span := tracing.StartChildSpan(ctx, "ingest.activity")
	span.SetAttr("key", key)
	defer span.End()

	rec, err := nf.Record(t.act)
	if err != nil {
		sum.Failed++
		span.SetError(err)
		log.ErrorContext(ctx, "building output record", "key", key, "error", err)
		return sum, nil
	}

	if r.store.TailMatches(ctx, key, rec) {
		sum.count(reconcile.Skip)
		r.observe(desc, reconcile.Skip)
		if r.metrics != nil {
			r.metrics.TailIndexHits.Inc()
		}
		return sum, nil
	}

	existing, err := r.store.Read(ctx, key)
	if err != nil {
		span.SetError(err)
		return sum, fmt.Errorf("reading %s: %w", key, err)
	}
	if n := len(existing.Dropped); n > 0 {
		sum.DroppedLines += n
		if r.metrics != nil {
			r.metrics.DroppedLogLines.WithLabelValues(desc.FeedName).Add(float64(n))
		}
	}

	fields := nf.Adapter.Fields()
	if n := len(existing.Records); n > 0 {
		older, err := reconcile.Predates(rec, existing.Records[n-1], fields)
		if err != nil {
			log.DebugContext(ctx, "ordering check skipped", "key", key, "error", err)
		}
		if older {
			sum.Stale++
			span.SetAttr("outcome", "stale")
			if r.metrics != nil {
				r.metrics.ReconcileOutcomes.WithLabelValues(desc.FeedName, "stale").Inc()
			}
			log.WarnContext(ctx, "ignoring status older than the log's last record", "key", key)
			return sum, nil
		}
	}

	decision, err := reconcile.Decide(existing.Records, rec, fields)
	if err != nil {
		sum.Failed++
		span.SetError(err)
		log.ErrorContext(ctx, "reconciling activity", "key", key, "error", err)
		return sum, nil
	}
	span.SetAttr("outcome", decision.Outcome.String())

	if decision.Write() {
		if err := r.store.Write(ctx, key, decision.Records); err != nil {
			span.SetError(err)
			return sum, fmt.Errorf("writing %s: %w", key, err)
		}
	}
	sum.count(decision.Outcome)
	r.observe(desc, decision.Outcome)
	log.DebugContext(ctx, "activity reconciled",
		"key", key,
		"outcome", decision.Outcome.String(),
		"reason", decision.Reason,
		"records", len(decision.Records),
	)
	return sum, nil
}

func (r *Runner) observe(desc feed.Descriptor, o reconcile.Outcome) {
	if r.metrics != nil {
		r.metrics.ReconcileOutcomes.WithLabelValues(desc.FeedName, o.String()).Inc()
	}
}

func (r *Runner) finish(ctx context.Context, log *slog.Logger, span *tracing.Span, res Result, err error) (Result, error) {
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Error = err.Error()
		span.SetError(err)
	}
	span.SetAttr("status", res.Status)
	span.End()

	if r.metrics != nil {
		r.metrics.CyclesTotal.WithLabelValues(res.FeedName, res.Status).Inc()
		r.metrics.CycleDuration.WithLabelValues(res.FeedName).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}

	attrs := append([]any{"status", res.Status}, res.Summary.logAttrs()...)
	if err != nil {
		attrs = append(attrs, "error", err)
		log.ErrorContext(ctx, "ingestion cycle failed", attrs...)
	} else {
		log.InfoContext(ctx, res.Summary.Message(res.FeedName), attrs...)
	}

	if r.ledger != nil && res.Status != StatusLocked {
		if lerr := r.ledger.Record(context.WithoutCancel(ctx), res); lerr != nil {
			log.WarnContext(ctx, "cycle not recorded in ledger", "error", lerr)
		}
	}
	return res, err
}
