package handler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/partition"
)

// maxInlinePayload bounds payloads posted directly to the API.
const maxInlinePayload = 32 << 20

// CycleRequest asks for one cycle of a registered feed. The payload comes
// either from a stored raw capture (key, optionally bucket) or inline.
type CycleRequest struct {
	State    string          `json:"state"`
	FeedName string          `json:"feedname"`
	Bucket   string          `json:"bucket,omitempty"`
	Key      string          `json:"key,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func validateCycleRequest(req *CycleRequest) error {
	errs := make(map[string]string)
	if strings.TrimSpace(req.State) == "" {
		errs["state"] = "state is required"
	}
	if strings.TrimSpace(req.FeedName) == "" {
		errs["feedname"] = "feedname is required"
	}
	hasPayload := len(req.Payload) > 0 && string(req.Payload) != "null"
	switch {
	case req.Key == "" && !hasPayload:
		errs["key"] = "one of key or payload is required"
	case req.Key != "" && hasPayload:
		errs["payload"] = "payload cannot be combined with key"
	case partition.IsNotRetrieved(req.Key):
		errs["key"] = "key names a failed capture"
	}
	if len(req.Payload) > maxInlinePayload {
		errs["payload"] = fmt.Sprintf("payload must be at most %d bytes", maxInlinePayload)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
