package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

func TestHash_CaseAndWhitespaceSensitivity(t *testing.T) {
	h1 := Hash("proj", domain.ActionStart, "Build failing")
	h2 := Hash("proj", domain.ActionStart, "build failing")
	assert.Equal(t, h1, h2, "reason is lowercased before hashing")

	h3 := Hash("proj", domain.ActionStart, "build passing")
	assert.NotEqual(t, h1, h3)
}

func TestHash_TruncatesReasonAt100Chars(t *testing.T) {
	long := ""
	for i := 0; i < 150; i++ {
		long += "x"
	}
	short := ""
	for i := 0; i < 100; i++ {
		short += "x"
	}
	assert.Equal(t, Hash("p", domain.ActionNotify, long), Hash("p", domain.ActionNotify, short))
}

func TestRecommendationHashMap_SuppressesWithinTTL(t *testing.T) {
	m := NewRecommendationHashMap(60_000)
	now := time.Now()
	m.now = func() time.Time { return now }

	h := Hash("proj", domain.ActionStart, "reason")
	assert.False(t, m.SeenRecently(h))

	m.Record(h)
	assert.True(t, m.SeenRecently(h))
}

func TestRecommendationHashMap_ExpiresAfterTTL(t *testing.T) {
	m := NewRecommendationHashMap(60_000)
	now := time.Now()
	m.now = func() time.Time { return now }

	h := Hash("proj", domain.ActionStart, "reason")
	m.Record(h)

	m.now = func() time.Time { return now.Add(61 * time.Second) }
	assert.False(t, m.SeenRecently(h))
}

func TestRecommendationHashMap_PrunesOnWrite(t *testing.T) {
	m := NewRecommendationHashMap(10_000)
	now := time.Now()
	m.now = func() time.Time { return now }

	stale := Hash("p1", domain.ActionStart, "r1")
	m.Record(stale)

	m.now = func() time.Time { return now.Add(11 * time.Second) }
	fresh := Hash("p2", domain.ActionStart, "r2")
	m.Record(fresh)

	m.mu.Lock()
	_, staleStillPresent := m.lastSeen[stale]
	_, freshPresent := m.lastSeen[fresh]
	m.mu.Unlock()

	assert.False(t, staleStillPresent)
	assert.True(t, freshPresent)
}
