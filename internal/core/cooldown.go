package core

import (
	"sync"
	"time"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// CooldownMap tracks lastAppliedAt per (project, action) and per-project
// (any action), enforcing the two windows from spec section 3: an action
// cannot repeat sooner than sameActionMs, and no action on the same
// project sooner than sameProjectMs.
type CooldownMap struct {
	mu            sync.Mutex
	byAction      map[string]time.Time // key: project + "\x00" + action
	byProject     map[string]time.Time // key: project
	sameActionMs  int64
	sameProjectMs int64
	now           func() time.Time
}

func NewCooldownMap(sameActionMs, sameProjectMs int64) *CooldownMap {
	return &CooldownMap{
		byAction:      make(map[string]time.Time),
		byProject:     make(map[string]time.Time),
		sameActionMs:  sameActionMs,
		sameProjectMs: sameProjectMs,
		now:           time.Now,
	}
}

func actionKey(project string, action domain.Action) string {
	return project + "\x00" + string(action)
}

// Check returns ("", 0) if the (project, action) pair is clear to fire, or
// a rejection reason and the remaining cooldown in ms otherwise. Same-action
// is checked before same-project, matching spec's evaluation order.
func (c *CooldownMap) Check(project string, action domain.Action) (reason string, remainingMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if last, ok := c.byAction[actionKey(project, action)]; ok {
		elapsed := now.Sub(last).Milliseconds()
		if elapsed < c.sameActionMs {
			return "cooldown active", c.sameActionMs - elapsed
		}
	}

	if last, ok := c.byProject[project]; ok {
		elapsed := now.Sub(last).Milliseconds()
		if elapsed < c.sameProjectMs {
			return "cooldown active", c.sameProjectMs - elapsed
		}
	}

	return "", 0
}

// Record marks an action as just-applied to project, starting both windows.
func (c *CooldownMap) Record(project string, action domain.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.byAction[actionKey(project, action)] = now
	c.byProject[project] = now
}
