package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/redis"
)

var iowa = feed.Descriptor{State: "IA", FeedName: "iowa", Format: feed.FormatGeoJSON, Version: "4.1"}

// payload renders a v4 feed. Each lane status becomes one feature with id
// WZ<n>; "" leaves the road_event_id out and "nodir" drops the direction.
func payload(t *testing.T, updated string, lanes ...string) map[string]any {
	t.Helper()
	var features []string
	for i, l := range lanes {
		id := fmt.Sprintf(`"road_event_id":"WZ%d",`, i)
		dir := `"direction":"northbound",`
		if l == "nodir" {
			dir = ""
		}
		features = append(features, fmt.Sprintf(
			`{"type":"Feature","properties":{%s"core_details":{%s"update_date":%q},"lanes":%q}}`,
			id, dir, updated, l))
	}
	body := fmt.Sprintf(`{"type":"FeatureCollection","feed_info":{"update_date":%q,"version":"4.1"},"features":[%s]}`,
		updated, join(features))
	raw, err := schema.Decode([]byte(body), feed.FormatGeoJSON)
	require.NoError(t, err)
	return raw
}

func join(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
	}
	return b.String()
}

type recordingLedger struct {
	mu      sync.Mutex
	results []Result
}

func (l *recordingLedger) Record(_ context.Context, r Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
	return nil
}

func newRunner(t *testing.T, store logstore.ObjectStore, parallelism int) (*Runner, *metrics.Metrics, *recordingLedger) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ledger := &recordingLedger{}
	r := NewRunner(Options{
		Store:       logstore.New(store, nil),
		Metrics:     m,
		Ledger:      ledger,
		Parallelism: parallelism,
		Timeout:     time.Minute,
	})
	return r, m, ledger
}

func TestCycleLifecycle(t *testing.T) {
	store := logstore.NewMemoryStore()
	r, m, ledger := newRunner(t, store, 1)
	ctx := context.Background()

	res, err := r.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "open", "closed"), "manual")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, Summary{Activities: 2, New: 2}, res.Summary)
	assert.ElementsMatch(t, []string{
		"state=IA/feedName=iowa/year=2023/month=05/WZ0_northbound_202305_v4.1",
		"state=IA/feedName=iowa/year=2023/month=05/WZ1_northbound_202305_v4.1",
	}, store.Keys())

	// identical replay writes nothing
	puts := store.Puts()
	res, err = r.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "open", "closed"), "manual")
	require.NoError(t, err)
	assert.Equal(t, Summary{Activities: 2, Skipped: 2}, res.Summary)
	assert.Equal(t, puts, store.Puts())

	// first divergence appends, then a timestamp-only refresh overwrites
	_, err = r.Run(ctx, iowa, payload(t, "2023-05-01T01:00:00Z", "open", "open"), "manual")
	require.NoError(t, err)
	res, err = r.Run(ctx, iowa, payload(t, "2023-05-01T02:00:00Z", "open", "open"), "manual")
	require.NoError(t, err)
	assert.Equal(t, Summary{Activities: 2, Overwritten: 2}, res.Summary)

	l, err := logstore.New(store, nil).Read(ctx, "state=IA/feedName=iowa/year=2023/month=05/WZ1_northbound_202305_v4.1")
	require.NoError(t, err)
	require.Len(t, l.Records, 2)
	assert.Equal(t, map[string]any{"update_date": "2023-05-01T02:00:00Z", "version": "4.1"}, l.Records[1]["feed_info"])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileOutcomes.WithLabelValues("iowa", "overwrite")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("iowa", StatusOK)))
	assert.Len(t, ledger.results, 4)
	assert.Equal(t, "manual", ledger.results[0].Source)
}

func TestKeyErrorsAndSupersededActivities(t *testing.T) {
	store := logstore.NewMemoryStore()
	r, m, _ := newRunner(t, store, 1)

	raw := payload(t, "2023-05-01T00:00:00Z", "open", "nodir")
	// duplicate WZ0 later in the list; the later status wins
	feats := raw["features"].([]any)
	dup := payload(t, "2023-05-01T00:00:00Z", "closed")["features"].([]any)[0]
	raw["features"] = append(feats, dup)

	res, err := r.Run(context.Background(), iowa, raw, "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Activities: 3, New: 1, KeyErrors: 1, Superseded: 1}, res.Summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyErrors.WithLabelValues("iowa")))

	l, err := logstore.New(store, nil).Read(context.Background(), "state=IA/feedName=iowa/year=2023/month=05/WZ0_northbound_202305_v4.1")
	require.NoError(t, err)
	require.Len(t, l.Records, 1)
	props := l.Records[0]["features"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "closed", props["lanes"])
}

func TestUnknownVersionLeavesLogsUntouched(t *testing.T) {
	store := logstore.NewMemoryStore()
	r, _, ledger := newRunner(t, store, 1)
	_, err := r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	require.NoError(t, err)
	puts := store.Puts()

	bad := iowa
	bad.Version = "9"
	res, err := r.Run(context.Background(), bad, payload(t, "2023-05-02T00:00:00Z", "closed"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSchema))
	assert.Equal(t, StatusSchemaError, res.Status)
	assert.Equal(t, puts, store.Puts())
	assert.Equal(t, StatusSchemaError, ledger.results[len(ledger.results)-1].Status)
}

func TestCycleInProgress(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), iowa.ID())
	require.NoError(t, err)

	r := NewRunner(Options{Store: logstore.New(logstore.NewMemoryStore(), nil), Locker: locker})
	res, err := r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	assert.True(t, errors.Is(err, apperrors.ErrCycleInProgress))
	assert.Equal(t, StatusLocked, res.Status)

	release()
	release()
	_, err = r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	assert.NoError(t, err)
}

type brokenStore struct {
	*logstore.MemoryStore
	failAfter int
	puts      int
	mu        sync.Mutex
}

func (b *brokenStore) Put(ctx context.Context, key string, body []byte) error {
	b.mu.Lock()
	b.puts++
	n := b.puts
	b.mu.Unlock()
	if n > b.failAfter {
		return fmt.Errorf("%w: disk full", apperrors.ErrStoreUnavailable)
	}
	return b.MemoryStore.Put(ctx, key, body)
}

func TestStoreFailureFailsCycleButKeepsWrites(t *testing.T) {
	store := &brokenStore{MemoryStore: logstore.NewMemoryStore(), failAfter: 1}
	r, m, _ := newRunner(t, store, 1)

	res, err := r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "a", "b", "c"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Summary.New)
	assert.Len(t, store.Keys(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("iowa", StatusFailed)))
}

func TestParallelMatchesSequential(t *testing.T) {
	lanes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	seqStore, parStore := logstore.NewMemoryStore(), logstore.NewMemoryStore()
	seq, _, _ := newRunner(t, seqStore, 1)
	par, _, _ := newRunner(t, parStore, 4)

	for _, ts := range []string{"2023-05-01T00:00:00Z", "2023-05-01T01:00:00Z", "2023-05-01T01:00:00Z"} {
		a, err := seq.Run(context.Background(), iowa, payload(t, ts, lanes...), "")
		require.NoError(t, err)
		b, err := par.Run(context.Background(), iowa, payload(t, ts, lanes...), "")
		require.NoError(t, err)
		assert.Equal(t, a.Summary, b.Summary)
	}
	assert.ElementsMatch(t, seqStore.Keys(), parStore.Keys())
	for _, k := range seqStore.Keys() {
		x, _ := seqStore.Get(context.Background(), k)
		y, _ := parStore.Get(context.Background(), k)
		assert.Equal(t, string(x), string(y), k)
	}
}

func TestDroppedLinesAndDecisionFailures(t *testing.T) {
	store := logstore.NewMemoryStore()
	ctx := context.Background()
	r, m, _ := newRunner(t, store, 1)

	key0 := "state=IA/feedName=iowa/year=2023/month=05/WZ0_northbound_202305_v4.1"
	key1 := "state=IA/feedName=iowa/year=2023/month=05/WZ1_northbound_202305_v4.1"
	good := `{"feed_info":{"update_date":"2023-05-01T00:00:00Z"},"features":[],"type":"FeatureCollection"}`
	badTime := `{"feed_info":{"update_date":"whenever"},"features":[],"type":"FeatureCollection"}`
	require.NoError(t, store.Put(ctx, key0, []byte("{oops\n"+good)))
	require.NoError(t, store.Put(ctx, key1, []byte(badTime+"\n"+good)))

	res, err := r.Run(ctx, iowa, payload(t, "2023-05-01T03:00:00Z", "open", "open"), "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Activities: 2, Appended: 1, DroppedLines: 1, Failed: 1}, res.Summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedLogLines.WithLabelValues("iowa")))
}

func TestRedisLockerAndTailIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Minute)
	release, err := locker.Acquire(context.Background(), iowa.ID())
	require.NoError(t, err)
	_, err = locker.Acquire(context.Background(), iowa.ID())
	assert.True(t, errors.Is(err, apperrors.ErrCycleInProgress))
	release()
	assert.False(t, mr.Exists("wz:lock:IA/iowa"))

	store := logstore.NewMemoryStore()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := NewRunner(Options{
		Store:   logstore.New(store, logstore.NewRedisTailIndex(client, "sandbox", time.Hour)),
		Locker:  locker,
		Metrics: m,
	})
	_, err = r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	require.NoError(t, err)
	res, err := r.Run(context.Background(), iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Skipped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TailIndexHits))
}

func TestTailIndexIgnoresWritesItDidNotSee(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	store := logstore.NewMemoryStore()
	service := NewRunner(Options{Store: logstore.New(store, logstore.NewRedisTailIndex(client, "sandbox", time.Hour))})
	other := NewRunner(Options{Store: logstore.New(store, nil)})
	ctx := context.Background()

	_, err = service.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	require.NoError(t, err)
	_, err = other.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "closed"), "")
	require.NoError(t, err)

	res, err := service.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "open"), "")
	require.NoError(t, err)
	assert.Zero(t, res.Summary.Skipped)
	assert.Equal(t, 1, res.Summary.Appended)
}

func TestOlderCaptureLeavesLogOrdered(t *testing.T) {
	store := logstore.NewMemoryStore()
	r, m, _ := newRunner(t, store, 1)
	ctx := context.Background()
	key := "state=IA/feedName=iowa/year=2023/month=05/WZ0_northbound_202305_v4.1"

	_, err := r.Run(ctx, iowa, payload(t, "2023-05-01T10:00:00Z", "open"), "")
	require.NoError(t, err)
	_, err = r.Run(ctx, iowa, payload(t, "2023-05-01T12:00:00Z", "closed"), "")
	require.NoError(t, err)
	before, err := store.Get(ctx, key)
	require.NoError(t, err)

	res, err := r.Run(ctx, iowa, payload(t, "2023-05-01T09:00:00Z", "shifted"), "replay")
	require.NoError(t, err)
	assert.Equal(t, Summary{Activities: 1, Stale: 1}, res.Summary)
	after, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileOutcomes.WithLabelValues("iowa", "stale")))
}

func TestCycleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _, _ := newRunner(t, logstore.NewMemoryStore(), 2)
	res, err := r.Run(ctx, iowa, payload(t, "2023-05-01T00:00:00Z", "a", "b"), "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestLoadRaw(t *testing.T) {
	store := logstore.NewMemoryStore()
	ctx := context.Background()
	body := []byte(`{"type":"FeatureCollection","feed_info":{"update_date":"2023-05-01"},"features":[]}`)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write(body)
	require.NoError(t, zw.Close())
	require.NoError(t, store.Put(ctx, "raw/iowa.json", body))
	require.NoError(t, store.Put(ctx, "raw/iowa.json.gz", gz.Bytes()))

	for _, k := range []string{"raw/iowa.json", "raw/iowa.json.gz"} {
		raw, err := LoadRaw(ctx, store, k, feed.FormatGeoJSON)
		require.NoError(t, err, k)
		assert.Equal(t, "FeatureCollection", raw["type"])
	}

	_, err := LoadRaw(ctx, store, "raw/missing", feed.FormatJSON)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = LoadRaw(ctx, store, "raw/iowa_x__FEED_NOT_RETRIEVED", feed.FormatJSON)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestSummaryMessage(t *testing.T) {
	s := Summary{Activities: 5, Skipped: 1, Overwritten: 2, Appended: 1, New: 1}
	assert.Equal(t, "5 status found in iowa feed: 1 skipped, 2 overwrites, 1 updates, 1 new files", s.Message("iowa"))
	assert.Equal(t, 5, s.Reconciled())
}
