package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// LoadRaw reads a raw capture and decodes it by the feed's format. Keys
// ending in .gz are decompressed first.
func LoadRaw(ctx context.Context, store logstore.ObjectStore, key string, format feed.Format) (map[string]any, error) {
	if partition.IsNotRetrieved(key) {
		return nil, fmt.Errorf("%w: %s marks a failed capture", apperrors.ErrInvalidInput, key)
	}
	body, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, &schema.SchemaError{Reason: "opening gzip capture " + key, Err: err}
		}
		defer zr.Close()
		if body, err = io.ReadAll(zr); err != nil {
			return nil, &schema.SchemaError{Reason: "decompressing capture " + key, Err: err}
		}
	}
	return schema.Decode(body, format)
}
