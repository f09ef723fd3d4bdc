package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenIDEvictsOldest(t *testing.T) {
	c := New(3, time.Minute, nil)
	assert.False(t, c.SeenID("a"))
	assert.False(t, c.SeenID("b"))
	assert.False(t, c.SeenID("c"))
	assert.True(t, c.SeenID("a"))

	// fourth id pushes out the oldest
	assert.False(t, c.SeenID("d"))
	assert.False(t, c.SeenID("a"))

	ids, _ := c.Len()
	assert.Equal(t, 3, ids)
}

func TestSeenContentTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(100, 5*time.Minute, func() time.Time { return now })

	assert.False(t, c.SeenContent("alice", "hello"))
	assert.True(t, c.SeenContent("alice", "hello"))
	// same content, different author is distinct
	assert.False(t, c.SeenContent("bob", "hello"))

	now = now.Add(5*time.Minute + time.Second)
	assert.False(t, c.SeenContent("alice", "hello"))
}

func TestSeenContentBounded(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(5, time.Hour, func() time.Time { return now })
	for i := 0; i < 50; i++ {
		c.SeenContent("alice", fmt.Sprintf("message %d", i))
	}
	_, fps := c.Len()
	assert.LessOrEqual(t, fps, 6)
}

func TestContentSeenDoesNotRecord(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(100, 5*time.Minute, func() time.Time { return now })

	// probing leaves no trace until a completion records the fingerprint
	assert.False(t, c.ContentSeen("alice", "hello"))
	assert.False(t, c.ContentSeen("alice", "hello"))
	_, fps := c.Len()
	assert.Equal(t, 0, fps)

	c.SeenContent("alice", "hello")
	assert.True(t, c.ContentSeen("alice", "hello"))
	now = now.Add(5*time.Minute + time.Second)
	assert.False(t, c.ContentSeen("alice", "hello"))
}

func TestForgetReleasesID(t *testing.T) {
	c := New(3, time.Minute, nil)
	assert.False(t, c.SeenID("a"))
	assert.True(t, c.SeenID("a"))

	c.Forget("a")
	assert.False(t, c.SeenID("a"))

	// forgetting an unknown id is a no-op
	c.Forget("zz")
	ids, _ := c.Len()
	assert.Equal(t, 1, ids)
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("a", "b"), Fingerprint("a", "b"))
	assert.NotEqual(t, Fingerprint("a", "b"), Fingerprint("ab", ""))
}
