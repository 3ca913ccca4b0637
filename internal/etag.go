package internal

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
)

// etagWriter is an io.Writer that hashes everything written to it, so it can
// sit in an io.TeeReader/io.MultiWriter chain alongside a JSON
// decode/encode and report whether the two sides produced the same bytes:
// old := newETagWriter(); r := io.TeeReader(src, old); decode(r); ...;
// neww := newETagWriter(); w := io.MultiWriter(buf, neww); encode(w, v);
// if neww.ETag() == old.ETag() { skip the rewrite }.
type etagWriter struct {
	h hash.Hash64
}

func newETagWriter() *etagWriter {
	return &etagWriter{h: fnv.New64a()}
}

func (w *etagWriter) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// ETag returns the running hash as a hex string.
func (w *etagWriter) ETag() string {
	return fmt.Sprintf("%x", w.h.Sum64())
}

// etagGate is a small in-memory "did this change" cache: it remembers the
// last ETag written for a key and reports whether a freshly computed one
// matches, so a caller can skip a store/cache rewrite that would produce
// identical bytes -- used by CoverOrchestrator's provenance writes and
// RecommendationEngine's recommendation-set writes.
type etagGate struct {
	mu   sync.Mutex
	last map[string]string
}

func newETagGate() *etagGate {
	return &etagGate{last: map[string]string{}}
}

// Unchanged reports whether tag matches the last tag recorded for key, and
// records tag as the new last value either way.
func (g *etagGate) Unchanged(key, tag string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.last[key]
	g.last[key] = tag
	return ok && prev == tag
}

// etagOf hashes v's JSON encoding via etagWriter. Callers that don't also
// need the encoded bytes can use this instead of a shared TeeReader/
// MultiWriter setup.
func etagOf(v any) (string, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return "", err
	}
	w := newETagWriter()
	_, _ = w.Write(b)
	return w.ETag(), nil
}
