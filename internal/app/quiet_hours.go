package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
)

// quietHours is a core.QuietHoursPredicate reading a live config.Store
// snapshot, so an operator edit to quiet_hours.* takes effect on the next
// check without restarting the daemon.
type quietHours struct {
	cfg *config.Store
}

func newQuietHours(cfg *config.Store) *quietHours {
	return &quietHours{cfg: cfg}
}

// IsQuiet reports whether at falls within the configured [start, end)
// window, which may wrap past midnight (e.g. 22:00-07:00).
func (q *quietHours) IsQuiet(at time.Time) bool {
	qh := q.cfg.Get().QuietHours
	if !qh.Enabled {
		return false
	}

	loc := time.Local
	if qh.Timezone != "" && qh.Timezone != "Local" {
		if l, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	start, okStart := parseHHMM(qh.Start)
	end, okEnd := parseHHMM(qh.End)
	if !okStart || !okEnd {
		return false
	}

	if start == end {
		return false
	}
	if start < end {
		return nowMinutes >= start && nowMinutes < end
	}
	// Window wraps past midnight.
	return nowMinutes >= start || nowMinutes < end
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return h*60 + m, true
}
