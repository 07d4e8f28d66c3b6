package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

const sampleYAML = `
storage:
  backend: file
  root: /var/lib/wzdx
  rawBucket: wzdx-raw
  sandboxBucket: wzdx-sandbox
trigger:
  mode: lambda
  sandboxTarget: pipe-to-sandbox
  socrataTarget: pipe-to-socrata
ingest:
  parallelism: 4
  cycleTimeout: 90s
feeds:
  - state: IA
    feedname: iowa
    url: https://example.test/iowa.geojson
    format: geojson
    version: "4.1"
    pipedtosandbox: true
    pipedtosocrata: true
  - state: MD
    feedname: maryland
    url: https://example.test/md.xml
    format: xml
    version: "1"
    pipedtosandbox: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Ingest.Parallelism)
	assert.Equal(t, 90*time.Second, cfg.Ingest.CycleTimeout)
	assert.Equal(t, "wzdx.sandbox.trigger", cfg.Kafka.Topics.SandboxTrigger)
	require.Len(t, cfg.Feeds, 2)
	assert.Equal(t, feed.FormatXML, cfg.Feeds[1].Format)
	assert.True(t, cfg.Feeds[0].PipedToSocrata)
	require.NoError(t, cfg.Validate())

	d, ok := cfg.Feed("MD", "maryland")
	require.True(t, ok)
	assert.Equal(t, "1", d.Version)
	_, ok = cfg.FeedByName("ohio")
	assert.False(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WZ_SANDBOX_BUCKET", "from-env")
	t.Setenv("WZ_REDIS_ENABLED", "true")
	t.Setenv("WZ_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WZ_INGEST_PARALLELISM", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Storage.SandboxBucket)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Ingest.Parallelism)
}

func TestValidateRequiresBucketsAndTargets(t *testing.T) {
	cfg := defaultConfig()
	cfg.Trigger.Mode = TriggerLambda

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), "storage.rawBucket is required")
	assert.Contains(t, err.Error(), "storage.sandboxBucket is required")
	assert.Contains(t, err.Error(), "trigger.sandboxTarget")
}

func TestValidateRejectsBadFeeds(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.RawBucket = "raw"
	cfg.Storage.SandboxBucket = "sandbox"
	cfg.Feeds = []feed.Descriptor{
		{State: "IA", FeedName: "iowa", Format: feed.FormatJSON, Version: "2"},
		{State: "IA", FeedName: "iowa", Format: feed.FormatJSON, Version: "2"},
		{State: "OH", FeedName: "ohio", Format: "csv", Version: "3"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feeds[1]: duplicate feed IA/iowa")
	assert.Contains(t, err.Error(), "feeds[2]")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
