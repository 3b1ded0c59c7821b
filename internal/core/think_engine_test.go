package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

type fakeGateway struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastOpts GatewayOptions
	block    chan struct{}
}

func (g *fakeGateway) CallGated(ctx context.Context, prompt string, opts GatewayOptions) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastOpts = opts
	g.mu.Unlock()
	if g.block != nil {
		<-g.block
	}
	return g.response, g.err
}

func newTestThinkEngine(t *testing.T, gw *fakeGateway, notifier *recordingNotifier) (*ThinkEngine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	autonomy := NewAutonomyState(store, TrustConfig{}, testLogger(t))
	cooldown := NewCooldownMap(300_000, 600_000)
	dedup := NewRecommendationHashMap(3_600_000)
	mux := &fakeMux{}
	exec := NewDecisionExecutor(store, autonomy, cooldown, dedup, mux, notifier, nil, DecisionExecutorConfig{MaxConcurrentSessions: 5}, testLogger(t))
	scanner := &fakeScanner{}
	assembler := NewContextAssembler(scanner, mux, nil, nil, autonomy, store, fakeQuietHours{}, func() Priorities { return Priorities{} }, 0, testLogger(t))
	te := NewThinkEngine(assembler, gw, exec, notifier, store, nil, ThinkEngineConfig{Model: "sonnet"}, testLogger(t))
	return te, store
}

func TestThinkEngine_HappyPath_AppendsDecisionAndNotifies(t *testing.T) {
	gw := &fakeGateway{response: `{"recommendations":[{"project":"p","action":"notify","reason":"heads up"}],"summary":"all quiet"}`}
	notifier := &recordingNotifier{}
	te, store := newTestThinkEngine(t, gw, notifier)
	require.NoError(t, store.SetAutonomyLevel(domain.LevelFull))

	te.Think(context.Background())

	decisions := store.RecentDecisions(10)
	require.Len(t, decisions, 1)
	assert.Empty(t, decisions[0].Error)
	assert.Equal(t, "all quiet", decisions[0].Summary)

	sent := notifier.all()
	require.NotEmpty(t, sent)
}

func TestThinkEngine_ParseFailure_RecordsErrorDecision(t *testing.T) {
	gw := &fakeGateway{response: `not json`}
	notifier := &recordingNotifier{}
	te, store := newTestThinkEngine(t, gw, notifier)

	te.Think(context.Background())

	decisions := store.RecentDecisions(10)
	require.Len(t, decisions, 1)
	assert.Equal(t, "parse_error", decisions[0].Error)
	assert.Empty(t, decisions[0].Recommendations)
	assert.Equal(t, "No summary", decisions[0].Summary)
}

func TestThinkEngine_GatewayTimeout_ClassifiedAndRecorded(t *testing.T) {
	gw := &fakeGateway{err: apperrors.NewTimeout("ETIMEDOUT")}
	notifier := &recordingNotifier{}
	te, store := newTestThinkEngine(t, gw, notifier)

	te.Think(context.Background())

	decisions := store.RecentDecisions(10)
	require.Len(t, decisions, 1)
	assert.Equal(t, "timeout", decisions[0].Error)
}

func TestThinkEngine_GatewayExitCode_Classified(t *testing.T) {
	gw := &fakeGateway{err: apperrors.Wrap(apperrors.CodeDownstream, "EXIT_7: boom", nil)}
	notifier := &recordingNotifier{}
	te, store := newTestThinkEngine(t, gw, notifier)

	te.Think(context.Background())

	decisions := store.RecentDecisions(10)
	require.Len(t, decisions, 1)
	assert.Equal(t, "exit_code_7", decisions[0].Error)
}

func TestThinkEngine_SingleFlight_ConcurrentCallDropped(t *testing.T) {
	gw := &fakeGateway{response: `{"recommendations":[],"summary":"ok"}`, block: make(chan struct{})}
	notifier := &recordingNotifier{}
	te, store := newTestThinkEngine(t, gw, notifier)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		te.Think(context.Background())
	}()
	time.Sleep(20 * time.Millisecond) // ensure the first call has claimed the flag

	te.Think(context.Background()) // dropped immediately, does not block

	close(gw.block)
	wg.Wait()

	assert.Equal(t, 1, gw.calls)
	assert.Len(t, store.RecentDecisions(10), 1)
}

func TestThinkEngine_RespectsFreeMemoryFloor(t *testing.T) {
	gw := &fakeGateway{response: `{"recommendations":[],"summary":"ok"}`}
	notifier := &recordingNotifier{}
	store := newFakeStore()
	autonomy := NewAutonomyState(store, TrustConfig{}, testLogger(t))
	cooldown := NewCooldownMap(300_000, 600_000)
	dedup := NewRecommendationHashMap(3_600_000)
	mux := &fakeMux{}
	exec := NewDecisionExecutor(store, autonomy, cooldown, dedup, mux, notifier, nil, DecisionExecutorConfig{}, testLogger(t))
	scanner := &fakeScanner{}
	assembler := NewContextAssembler(scanner, mux, nil, nil, autonomy, store, fakeQuietHours{}, func() Priorities { return Priorities{} }, 0, testLogger(t))
	resource := &fakeResource{freeMB: 10}
	te := NewThinkEngine(assembler, gw, exec, notifier, store, resource, ThinkEngineConfig{MinFreeMemoryMB: 512}, testLogger(t))

	te.Think(context.Background())

	assert.Equal(t, 0, gw.calls)
	assert.Empty(t, store.RecentDecisions(10))
}

func TestThinkEngine_NextThinkIn_ClampedToBounds(t *testing.T) {
	gw := &fakeGateway{response: `{"recommendations":[],"summary":"ok","nextThinkIn":5}`}
	notifier := &recordingNotifier{}
	te, _ := newTestThinkEngine(t, gw, notifier)

	d := te.Think(context.Background())
	assert.Equal(t, minNextThinkIn, d)
}

func TestThinkEngine_GenerateDigest_TruncatesAndSharesSingleFlight(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	gw := &fakeGateway{response: string(long)}
	notifier := &recordingNotifier{}
	te, _ := newTestThinkEngine(t, gw, notifier)

	digest, err := te.GenerateDigest(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(digest), 1500)
	assert.Contains(t, digest, "[truncated]")
	assert.Equal(t, "text", gw.lastOpts.OutputFormat)
}
