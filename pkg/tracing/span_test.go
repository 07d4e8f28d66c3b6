package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	return &buf
}

func TestSpanTreeLoggedWhenSampled(t *testing.T) {
	buf := captureLogs(t)
	Configure(config.TracingConfig{Enabled: true, SampleRate: 1})
	t.Cleanup(func() { Configure(config.TracingConfig{}) })

	ctx, root := StartSpan(context.Background(), "cycle", "cycle-1")
	_, child := StartChildSpan(ctx, "activity")
	child.SetAttr("key", "state=IA/x")
	child.SetError(errors.New("boom"))
	child.End()
	root.End()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "trace_id=cycle-1")
	assert.Contains(t, out, "error=boom")
	assert.Equal(t, "cycle-1", child.TraceID)
}

func TestSpanNotLoggedWhenDisabled(t *testing.T) {
	buf := captureLogs(t)
	Configure(config.TracingConfig{Enabled: false, SampleRate: 1})

	_, root := StartSpan(context.Background(), "cycle", "cycle-2")
	root.End()
	assert.Empty(t, buf.String())
}
