package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func newTestPipeline(t *testing.T, sender *recordingSender, quiet bool, cfg NotificationPipelineConfig) *NotificationPipeline {
	t.Helper()
	return NewNotificationPipeline(sender.send, fakeQuietHours{quiet: quiet}, cfg, testLogger(t))
}

func TestNotificationPipeline_Urgent_SendsDuringActiveHours(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 20})

	p.Notify("fire", int(TierUrgent))
	require.Len(t, sender.all(), 1)
	assert.Equal(t, "fire", sender.all()[0])
}

func TestNotificationPipeline_Urgent_BypassesQuietByDefault(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, true, NotificationPipelineConfig{DailyBudget: 20, UrgentBypassQuiet: true})

	p.Notify("fire", int(TierUrgent))
	require.Len(t, sender.all(), 1)
}

func TestNotificationPipeline_Urgent_QueuedWhenBypassDisabled(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, true, NotificationPipelineConfig{DailyBudget: 20, UrgentBypassQuiet: false})

	p.Notify("fire", int(TierUrgent))
	assert.Empty(t, sender.all())
}

func TestNotificationPipeline_Urgent_PiggybacksBatchQueue(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 20})

	p.Notify("queued summary", int(TierSummary))
	p.Notify("urgent", int(TierUrgent))

	sent := sender.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "urgent", sent[0])
	assert.Contains(t, sent[1], "queued summary")
}

func TestNotificationPipeline_Action_QueuedDuringQuietHours(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, true, NotificationPipelineConfig{DailyBudget: 20})

	p.Notify("action", int(TierAction))
	assert.Empty(t, sender.all())

	p.Flush()
	sent := sender.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "action")
}

func TestNotificationPipeline_Action_DowngradesToBatchWhenBudgetExhausted(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 1})

	p.Notify("first", int(TierAction))
	p.Notify("second", int(TierAction))

	sent := sender.all()
	require.Len(t, sent, 1, "only the first action send should count against budget; the second queues")
}

func TestNotificationPipeline_Debug_NeverSent(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 20})

	p.Notify("debug only", int(TierDebug))
	assert.Empty(t, sender.all())
}

func TestNotificationPipeline_Flush_FormatsBatchAndTruncates(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 20})

	for i := 0; i < 200; i++ {
		p.Notify("padding item to exceed the sms hard limit quickly", int(TierSummary))
	}
	p.Flush()

	sent := sender.all()
	require.Len(t, sent, 1)
	assert.LessOrEqual(t, len(sent[0]), 1500)
	assert.Contains(t, sent[0], "Batch update")
}

func TestNotificationPipeline_DailyBudget_ResetsOnNewCalendarDay(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 1})
	fixedDay := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixedDay }

	p.Notify("a1", int(TierAction))
	p.Notify("a2", int(TierAction)) // exhausted, queues

	p.now = func() time.Time { return fixedDay.Add(25 * time.Hour) }
	p.Notify("a3", int(TierAction))

	sent := sender.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "a1", sent[0])
	assert.Equal(t, "a3", sent[1])
}

func TestNotificationPipeline_SendError_DoesNotCountAgainstBudget(t *testing.T) {
	sender := &recordingSender{err: errors.New("network down")}
	p := newTestPipeline(t, sender, false, NotificationPipelineConfig{DailyBudget: 20})

	p.Notify("a", int(TierUrgent))
	assert.Empty(t, sender.all())
}
