package summarizer

import (
	"container/list"
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"time"
)

type inputDigest [sha256.Size]byte

func digestInput(input Input) inputDigest {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(input.SourceURL)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(input.Text)))

	var d inputDigest
	h.Sum(d[:0])

	return d
}

// descriptionCache is an LRU of descriptions keyed by the digest of an article's source and text.
// Descriptions older than ttl count as missing.
type descriptionCache struct {
	mu    sync.Mutex
	limit int
	ttl   time.Duration
	now   func() time.Time
	index map[inputDigest]*list.Element
	// Front is the most recently used.
	recent *list.List
}

type cachedDescription struct {
	digest   inputDigest
	text     string
	storedAt time.Time
}

// newDescriptionCache returns nil, a cache that never hits, when limit or ttl is not positive.
func newDescriptionCache(limit int, ttl time.Duration) *descriptionCache {
	if limit <= 0 || ttl <= 0 {
		return nil
	}

	return &descriptionCache{
		limit:  limit,
		ttl:    ttl,
		now:    time.Now,
		index:  make(map[inputDigest]*list.Element, limit),
		recent: list.New(),
	}
}

func (c *descriptionCache) lookup(input Input) (string, bool) {
	if c == nil {
		return "", false
	}

	digest := digestInput(input)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[digest]
	if !ok {
		return "", false
	}

	if c.stale(elem, c.now()) {
		c.drop(elem)

		return "", false
	}

	c.recent.MoveToFront(elem)

	return description(elem).text, true
}

func (c *descriptionCache) store(input Input, text string) {
	if c == nil || text == "" {
		return
	}

	digest := digestInput(input)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[digest]; ok {
		entry := description(elem)
		entry.text = text
		entry.storedAt = now
		c.recent.MoveToFront(elem)

		return
	}

	c.index[digest] = c.recent.PushFront(&cachedDescription{
		digest:   digest,
		text:     text,
		storedAt: now,
	})

	for back := c.recent.Back(); back != nil && (len(c.index) > c.limit || c.stale(back, now)); back = c.recent.Back() {
		c.drop(back)
	}
}

func (c *descriptionCache) stale(elem *list.Element, now time.Time) bool {
	return now.Sub(description(elem).storedAt) >= c.ttl
}

func (c *descriptionCache) drop(elem *list.Element) {
	delete(c.index, description(elem).digest)
	c.recent.Remove(elem)
}

func description(elem *list.Element) *cachedDescription {
	return elem.Value.(*cachedDescription) //nolint:forcetypeassert // only descriptions are stored
}

// CachedSummarizer remembers descriptions per source URL and text so re-running back-fill over the
// same article does not call the model again.
type CachedSummarizer struct {
	inner Summarizer
	cache *descriptionCache
}

func NewCached(inner Summarizer, maxEntries int, ttl time.Duration) *CachedSummarizer {
	return &CachedSummarizer{
		inner: inner,
		cache: newDescriptionCache(maxEntries, ttl),
	}
}

func (s *CachedSummarizer) Summarize(ctx context.Context, input Input) (string, error) {
	if text, ok := s.cache.lookup(input); ok {
		return text, nil
	}

	text, err := s.inner.Summarize(ctx, input)
	if err != nil {
		return "", err
	}

	s.cache.store(input, text)

	return text, nil
}
