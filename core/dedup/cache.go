// Package dedup suppresses repeated deliveries of the same completed turn.
package dedup

import (
	"math"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultSize bounds the number of remembered fingerprints. It comfortably
	// exceeds the number of turns of a long support conversation.
	DefaultSize = 1024

	// fingerprintResponsePrefix is how much of the response text takes part in
	// the fingerprint, in characters.
	fingerprintResponsePrefix = 50
)

// Fingerprint derives the dedup key of a completed turn from the resolved user
// text, the total processing time (floored) and the first 50 characters of
// the response.
func Fingerprint(userText string, processingTime float64, responseText string) string {
	if math.IsNaN(processingTime) || math.IsInf(processingTime, 0) {
		processingTime = 0
	}

	response := []rune(responseText)
	if len(response) > fingerprintResponsePrefix {
		response = response[:fingerprintResponsePrefix]
	}

	return userText + "-" + strconv.FormatFloat(math.Floor(processingTime), 'f', -1, 64) + "-" + string(response)
}

// Cache remembers fingerprints of turns that were already reconciled.
//
// It is bounded by size (least recently seen fingerprints are evicted first)
// and optionally by ttl, measured from when a fingerprint was first seen. A
// size of 0 disables the size bound and a ttl of 0 disables expiry. Expiry is
// checked on lookup, the cache runs no background goroutine.
type Cache struct {
	lru  *lru.Cache[string, time.Time]
	size int
	ttl  time.Duration
	now  func() time.Time
}

func New(size int, ttl time.Duration) *Cache {
	if size < 0 {
		size = DefaultSize
	}
	if ttl < 0 {
		ttl = 0
	}

	capacity := size
	if capacity == 0 {
		capacity = math.MaxInt
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, time.Time](capacity)

	return &Cache{
		lru:  cache,
		size: size,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Observe records fingerprint and reports whether it had been seen before.
// A repeated fingerprint becomes the most recently seen one again. An expired
// fingerprint counts as new and is recorded afresh.
func (c *Cache) Observe(fingerprint string) (seen bool) {
	now := c.now()
	if firstSeen, ok := c.lru.Get(fingerprint); ok && !c.expired(firstSeen, now) {
		return true
	}

	c.lru.Add(fingerprint, now)
	return false
}

func (c *Cache) Contains(fingerprint string) bool {
	firstSeen, ok := c.lru.Peek(fingerprint)
	return ok && !c.expired(firstSeen, c.now())
}

func (c *Cache) expired(firstSeen, now time.Time) bool {
	return c.ttl > 0 && now.Sub(firstSeen) >= c.ttl
}

// Len reports the number of remembered fingerprints, expired ones included
// until they are looked up or evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge forgets every fingerprint.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Size() int          { return c.size }
func (c *Cache) TTL() time.Duration { return c.ttl }
