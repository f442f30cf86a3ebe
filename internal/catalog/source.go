package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSourceUnavailable wraps lookup failures so callers can degrade to "no tiering".
var ErrSourceUnavailable = errors.New("catalog: tier source unavailable")

// Source returns the raw tier record attached to a product variant.
type Source interface {
	TierRecord(ctx context.Context, variantID string) (string, bool, error)
}

// Fixtures is a read-only in-memory tier table keyed by variant ID. It is built once
// and passed explicitly to whoever needs it.
type Fixtures struct {
	records map[string]string
}

// NewFixtures copies records so later changes to the map are not observed.
func NewFixtures(records map[string]string) *Fixtures {
	out := make(map[string]string, len(records))
	for id, rec := range records {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out[id] = rec
	}
	return &Fixtures{records: out}
}

// LoadFixtures reads a JSON object of variant ID to tier record. Records may be
// given either as JSON objects or as JSON-encoded strings.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes the fixture document format used by LoadFixtures.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	records := make(map[string]string, len(raw))
	for id, msg := range raw {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			records[id] = s
			continue
		}
		records[id] = string(msg)
	}
	return NewFixtures(records), nil
}

// Len returns the number of variants with a record.
func (f *Fixtures) Len() int {
	if f == nil {
		return 0
	}
	return len(f.records)
}

// Records returns a copy of the fixture table.
func (f *Fixtures) Records() map[string]string {
	out := make(map[string]string, f.Len())
	if f == nil {
		return out
	}
	for id, rec := range f.records {
		out[id] = rec
	}
	return out
}

// TierRecord implements Source.
func (f *Fixtures) TierRecord(_ context.Context, variantID string) (string, bool, error) {
	if f == nil {
		return "", false, nil
	}
	rec, ok := f.records[strings.TrimSpace(variantID)]
	return rec, ok, nil
}

// Chain consults sources in order and returns the first record found. A failing
// source does not stop the chain; its error is reported only if nothing matched.
type Chain []Source

// TierRecord implements Source.
func (c Chain) TierRecord(ctx context.Context, variantID string) (string, bool, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		rec, ok, err := src.TierRecord(ctx, variantID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return rec, true, nil
		}
	}
	if len(errs) > 0 {
		return "", false, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
	}
	return "", false, nil
}
