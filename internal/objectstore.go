package internal

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// ObjectStore is the narrow, external-collaborator-facing interface the
// engine needs from a durable blob store. The concrete driver (s3store.go)
// is out of scope per the engine's design; everything above this interface
// is in scope.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, body []byte) error
}

// ObjectStoreCache is the JSON blob get/put tier (C5). Keys follow
// `books/v1/<externalId>.json(.gz)`. Values are gzip-compressed UTF-8 JSON.
type ObjectStoreCache struct {
	store   ObjectStore
	metrics *cacheMetrics
}

// NewObjectStoreCache wraps a durable object store.
func NewObjectStoreCache(store ObjectStore, metrics *cacheMetrics) *ObjectStoreCache {
	return &ObjectStoreCache{store: store, metrics: metrics}
}

// objectKey builds the bucket-relative key for an external identifier.
func objectKey(externalID string) string {
	return fmt.Sprintf("books/v1/%s.json.gz", externalID)
}

var gzipMagic = []byte{0x1f, 0x8b}

// Fetch returns the decompressed JSON payload for externalID, or
// ErrNotFound. It auto-detects gzip via magic bytes and falls back to raw
// UTF-8 for payloads written before compression was adopted.
func (o *ObjectStoreCache) Fetch(ctx context.Context, externalID string) ([]byte, error) {
	raw, err := o.store.GetObject(ctx, objectKey(externalID))
	if err != nil {
		if o.metrics != nil {
			o.metrics.cacheMissInc()
		}
		return nil, fmt.Errorf("object store fetch %q: %w", externalID, ErrNotFound)
	}
	if o.metrics != nil {
		o.metrics.cacheHitInc()
	}

	if len(raw) >= 2 && raw[0] == gzipMagic[0] && raw[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decompressing %q: %w", externalID, ErrCorrupt)
		}
		defer func() { _ = zr.Close() }()
		body, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing %q: %w", externalID, ErrCorrupt)
		}
		return body, nil
	}

	return raw, nil
}

// Put compresses and uploads json under externalID's key.
func (o *ObjectStoreCache) Put(ctx context.Context, externalID string, json []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(json); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return o.store.PutObject(ctx, objectKey(externalID), buf.Bytes())
}

// Update merges qualifier-level fields from book into the existing cached
// payload for externalID, or replaces it outright, per the smart-update
// heuristic: keep the richer of the two payloads (existing wins when its
// description is at least 10% longer, or it has strictly more non-null key
// fields), otherwise the incoming book replaces it.
func (o *ObjectStoreCache) Update(ctx context.Context, externalID string, book *Book) error {
	existingRaw, err := o.Fetch(ctx, externalID)
	if err != nil {
		encoded, merr := sonic.Marshal(book)
		if merr != nil {
			return merr
		}
		return o.Put(ctx, externalID, encoded)
	}

	var existing Book
	if err := sonic.Unmarshal(existingRaw, &existing); err != nil {
		// Existing payload is corrupt; the incoming book is strictly better.
		encoded, merr := sonic.Marshal(book)
		if merr != nil {
			return merr
		}
		return o.Put(ctx, externalID, encoded)
	}

	if richer(&existing, book) {
		if len(book.Qualifiers) == 0 {
			return nil
		}
		if existing.Qualifiers == nil {
			existing.Qualifiers = map[string]map[string]any{}
		}
		for tag, attrs := range book.Qualifiers {
			existing.Qualifiers[tag] = attrs
		}
		encoded, err := sonic.Marshal(&existing)
		if err != nil {
			return err
		}
		return o.Put(ctx, externalID, encoded)
	}

	encoded, err := sonic.Marshal(book)
	if err != nil {
		return err
	}
	return o.Put(ctx, externalID, encoded)
}

// richer reports whether existing should be kept over incoming: its
// description is at least 10% longer, or it has strictly more populated
// key fields (ISBNs, publisher, page count, cover, published date).
func richer(existing, incoming *Book) bool {
	if len(existing.Description) > len(incoming.Description) && len(existing.Description) >= len(incoming.Description)*11/10 {
		return true
	}
	return nonNullFieldCount(existing) > nonNullFieldCount(incoming)
}

func nonNullFieldCount(b *Book) int {
	n := 0
	if b.ISBN10 != "" {
		n++
	}
	if b.ISBN13 != "" {
		n++
	}
	if b.Publisher != "" {
		n++
	}
	if b.PageCount != 0 {
		n++
	}
	if b.Cover.URL != "" {
		n++
	}
	if b.PublishedAt != "" {
		n++
	}
	return n
}
