package core

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// RecommendationHashMap suppresses content-equivalent recommendations within
// a TTL window (spec section 3). The hash is a compact non-cryptographic
// 32-bit digest (FNV-1a) — collisions are acceptable; a false suppression
// self-heals once the TTL elapses.
type RecommendationHashMap struct {
	mu       sync.Mutex
	lastSeen map[uint32]time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewRecommendationHashMap(ttlMs int64) *RecommendationHashMap {
	return &RecommendationHashMap{
		lastSeen: make(map[uint32]time.Time),
		ttl:      time.Duration(ttlMs) * time.Millisecond,
		now:      time.Now,
	}
}

// Hash computes hashOf(project:action:truncate(reason,100)) with the reason
// lowercased, per spec section 4.4.
func Hash(project string, action domain.Action, reason string) uint32 {
	r := strings.ToLower(reason)
	if len(r) > 100 {
		r = r[:100]
	}
	h := fnv.New32a()
	h.Write([]byte(project))
	h.Write([]byte{':'})
	h.Write([]byte(action))
	h.Write([]byte{':'})
	h.Write([]byte(r))
	return h.Sum32()
}

// SeenRecently reports whether hash was recorded within the TTL window
// (without mutating state).
func (m *RecommendationHashMap) SeenRecently(hash uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	last, ok := m.lastSeen[hash]
	if !ok {
		return false
	}
	return m.now().Sub(last) < m.ttl
}

// Record stores hash with the current timestamp, then prunes expired
// entries — spec requires pruning on every write.
func (m *RecommendationHashMap) Record(hash uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen[hash] = m.now()
	m.pruneLocked()
}

func (m *RecommendationHashMap) pruneLocked() {
	now := m.now()
	for h, ts := range m.lastSeen {
		if now.Sub(ts) >= m.ttl {
			delete(m.lastSeen, h)
		}
	}
}
