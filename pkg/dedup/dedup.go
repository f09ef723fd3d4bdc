// Package dedup suppresses redundant work when the same event arrives from
// several relays or a user retransmits identical content. Event ids live in
// a FIFO-bounded set; (author, content) fingerprints carry a TTL and the
// same FIFO bound.
package dedup

import (
	"sync"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/templexxx/xhex"
)

// Cache is safe for concurrent use. One lock guards both structures; every
// operation is O(1) amortized.
type Cache struct {
	mu sync.Mutex

	ids     map[string]struct{}
	idOrder []string
	maxIDs  int

	fps     map[string]int64 // fingerprint -> expiry unix ms
	fpOrder []string
	ttl     time.Duration

	now func() time.Time
}

// New builds a cache bounded to maxIDs processed event ids, with ttl on
// content fingerprints. now is the clock, time.Now in production.
func New(maxIDs int, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ids:    make(map[string]struct{}, maxIDs),
		maxIDs: maxIDs,
		fps:    make(map[string]int64),
		ttl:    ttl,
		now:    now,
	}
}

// SeenID records id and reports whether it was already present. The oldest
// id is evicted when the set is full.
func (c *Cache) SeenID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return true
	}
	c.ids[id] = struct{}{}
	c.idOrder = append(c.idOrder, id)
	if len(c.idOrder) > c.maxIDs {
		evict := c.idOrder[0]
		c.idOrder = c.idOrder[1:]
		delete(c.ids, evict)
	}
	return false
}

// Fingerprint hashes an (author, content) pair.
func Fingerprint(author, content string) string {
	h := sha256.New()
	h.Write([]byte(author))
	h.Write([]byte{0})
	h.Write([]byte(content))
	sum := h.Sum(nil)
	out := make([]byte, len(sum)*2)
	xhex.Encode(out, sum)
	return string(out)
}

// ContentSeen reports whether an unexpired fingerprint for (author, content)
// is present, without recording one.
func (c *Cache) ContentSeen(author, content string) bool {
	fp := Fingerprint(author, content)
	nowMS := c.now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.fps[fp]
	return ok && exp > nowMS
}

// SeenContent records the (author, content) fingerprint and reports whether
// an unexpired copy was already present.
func (c *Cache) SeenContent(author, content string) bool {
	fp := Fingerprint(author, content)
	nowMS := c.now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.fps[fp]; ok && exp > nowMS {
		return true
	}
	if _, ok := c.fps[fp]; !ok {
		c.fpOrder = append(c.fpOrder, fp)
	}
	c.fps[fp] = nowMS + c.ttl.Milliseconds()
	// drop expired heads and enforce the same bound as the id set
	for len(c.fpOrder) > 0 {
		head := c.fpOrder[0]
		if exp, ok := c.fps[head]; ok && exp > nowMS && len(c.fpOrder) <= c.maxIDs {
			break
		}
		c.fpOrder = c.fpOrder[1:]
		delete(c.fps, head)
	}
	return false
}

// Forget releases id from the processed set so a redelivered copy is handled
// again. Used when a handler fails and the event must stay recoverable.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; !ok {
		return
	}
	delete(c.ids, id)
	for i, v := range c.idOrder {
		if v == id {
			c.idOrder = append(c.idOrder[:i], c.idOrder[i+1:]...)
			break
		}
	}
}

// Len reports the current sizes of the id set and fingerprint map.
func (c *Cache) Len() (ids, fingerprints int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids), len(c.fps)
}
