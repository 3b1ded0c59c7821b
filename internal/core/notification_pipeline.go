package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tier is one of the four notification urgency levels (spec section 4.7).
type Tier int

const (
	TierUrgent  Tier = 1
	TierAction  Tier = 2
	TierSummary Tier = 3
	TierDebug   Tier = 4
)

// NotificationPipelineConfig carries the tunables spec section 6 names.
type NotificationPipelineConfig struct {
	DailyBudget       int
	BatchInterval     time.Duration
	UrgentBypassQuiet bool
}

// NotificationPipeline is the sole outbound-SMS waist: it enforces the
// daily send budget, quiet-hours batching, and interval/piggyback flushing
// described in spec section 4.7.
type NotificationPipeline struct {
	send   func(text string) error
	quiet  QuietHoursPredicate
	cfg    NotificationPipelineConfig
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	batch         []string
	sentToday     int
	budgetDay     string
	warnedAt80Pct bool
}

func NewNotificationPipeline(send func(text string) error, quiet QuietHoursPredicate, cfg NotificationPipelineConfig, logger *zap.Logger) *NotificationPipeline {
	return &NotificationPipeline{
		send: send, quiet: quiet, cfg: cfg,
		logger: logger.With(zap.String("component", "notification-pipeline")),
		now:    time.Now,
	}
}

// Notify is the NotificationSender surface DecisionExecutor/HealthController/
// ThinkEngine call. tier follows the Tier constants (1..4); any other value
// is treated as TierSummary.
func (n *NotificationPipeline) Notify(message string, tier int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.rolloverDayLocked()

	switch Tier(tier) {
	case TierDebug:
		n.logger.Debug("notification (debug tier, not sent)", zap.String("message", message))
		return

	case TierUrgent:
		quiet := n.quiet != nil && n.quiet.IsQuiet(n.now())
		if quiet && !n.cfg.UrgentBypassQuiet {
			n.batch = append(n.batch, message)
			return
		}
		n.sendNowLocked(message)
		n.flushLocked() // piggyback the batch queue on a tier-1 send

	case TierAction:
		quiet := n.quiet != nil && n.quiet.IsQuiet(n.now())
		if quiet || !n.withinBudgetLocked() {
			n.batch = append(n.batch, message)
			return
		}
		n.sendNowLocked(message)

	default: // TierSummary and anything unrecognized
		n.batch = append(n.batch, message)
	}
}

// Flush drains the batch queue into a single SMS, per the interval timer
// (default 4h) described in spec section 4.7.
func (n *NotificationPipeline) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rolloverDayLocked()
	n.flushLocked()
}

func (n *NotificationPipeline) flushLocked() {
	if len(n.batch) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Batch update (%d items):\n", len(n.batch))
	for _, item := range n.batch {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	msg := strings.TrimRight(b.String(), "\n")
	if len(msg) > smsHardLimit {
		msg = msg[:smsHardLimit-len("[truncated]")] + "[truncated]"
	}
	n.batch = nil
	n.sendNowLocked(msg)
}

func (n *NotificationPipeline) sendNowLocked(message string) {
	if err := n.send(message); err != nil {
		n.logger.Error("notification send failed", zap.Error(err))
		return
	}
	n.sentToday++
	if !n.warnedAt80Pct && n.cfg.DailyBudget > 0 && n.sentToday >= (n.cfg.DailyBudget*8)/10 {
		n.warnedAt80Pct = true
		n.logger.Warn("approaching daily notification budget",
			zap.Int("sentToday", n.sentToday), zap.Int("dailyBudget", n.cfg.DailyBudget))
	}
}

func (n *NotificationPipeline) withinBudgetLocked() bool {
	return n.cfg.DailyBudget <= 0 || n.sentToday < n.cfg.DailyBudget
}

func (n *NotificationPipeline) rolloverDayLocked() {
	today := n.now().Format("2006-01-02")
	if n.budgetDay != today {
		n.budgetDay = today
		n.sentToday = 0
		n.warnedAt80Pct = false
	}
}
