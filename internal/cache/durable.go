package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrNotFound is returned by durable stores when a key has no entry.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("cache key not found: %s", e.Key) }

// DurableStore is the persistence-backed tier behind the in-memory cache.
// Implementations store opaque envelopes; expiry inside the envelope is
// authoritative, store-native TTLs are only a safety net.
type DurableStore interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
	Close() error
}

// encodeEnvelope packs a value with its creation and expiry instants into the
// JSON envelope stored in the durable tier.
func encodeEnvelope(value Value, createdAt, expiresAt time.Time) ([]byte, error) {
	raw, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	data := []byte("{}")
	if data, err = sjson.SetRawBytes(data, "value", raw); err != nil {
		return nil, err
	}
	if data, err = sjson.SetBytes(data, "created_at", createdAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if data, err = sjson.SetBytes(data, "expires_at", expiresAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	return data, nil
}

// decodeEnvelope unpacks a durable-tier envelope. A malformed expiry counts as
// expired, which gets the entry purged.
func decodeEnvelope(data []byte) (value Value, createdAt, expiresAt time.Time, err error) {
	if !gjson.ValidBytes(data) {
		return Value{}, time.Time{}, time.Time{}, fmt.Errorf("malformed cache envelope")
	}
	doc := gjson.ParseBytes(data)

	expiresAt, err = time.Parse(time.RFC3339Nano, doc.Get("expires_at").String())
	if err != nil {
		return Value{}, time.Time{}, time.Time{}, fmt.Errorf("malformed expiry: %w", err)
	}
	createdAt, err = time.Parse(time.RFC3339Nano, doc.Get("created_at").String())
	if err != nil {
		return Value{}, time.Time{}, time.Time{}, fmt.Errorf("malformed creation time: %w", err)
	}

	raw := doc.Get("value")
	if !raw.Exists() {
		return Value{}, time.Time{}, time.Time{}, fmt.Errorf("cache envelope without value")
	}
	return fromResult(raw), createdAt, expiresAt, nil
}
