package core

import (
	"context"
	"sync"
	"time"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

// fakeStore is an in-memory StateStore used across core package tests.
type fakeStore struct {
	mu sync.Mutex

	level      domain.AutonomyLevel
	decisions  []domain.Decision
	executions []domain.Execution
	evals      []domain.Evaluation
	retries    map[string]int
	trust      map[domain.AutonomyLevel]domain.TrustRow
	budget     domain.RestartBudget
	version    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		level:   domain.LevelObserve,
		retries: make(map[string]int),
		trust:   make(map[domain.AutonomyLevel]domain.TrustRow),
	}
}

func (s *fakeStore) AutonomyLevel() domain.AutonomyLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *fakeStore) SetAutonomyLevel(level domain.AutonomyLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	s.version++
	return nil
}

func (s *fakeStore) AppendDecision(d domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

func (s *fakeStore) AppendExecution(e domain.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, e)
}

func (s *fakeStore) AppendEvaluation(e domain.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals = append(s.evals, e)
}

func (s *fakeStore) RecentDecisions(n int) []domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.decisions) <= n {
		return append([]domain.Decision(nil), s.decisions...)
	}
	return append([]domain.Decision(nil), s.decisions[len(s.decisions)-n:]...)
}

func (s *fakeStore) ExecutionHistory() []domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Execution(nil), s.executions...)
}

func (s *fakeStore) EvaluationHistory() []domain.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Evaluation(nil), s.evals...)
}

func (s *fakeStore) ErrorRetryCount(project string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries[project]
}

func (s *fakeStore) IncErrorRetryCount(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[project]++
}

func (s *fakeStore) ResetErrorRetryCount(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, project)
}

func (s *fakeStore) TrustRow(level domain.AutonomyLevel) domain.TrustRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trust[level]
}

func (s *fakeStore) SetTrustRow(level domain.AutonomyLevel, row domain.TrustRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust[level] = row
}

func (s *fakeStore) RestartBudget() domain.RestartBudget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

func (s *fakeStore) RecordRestart(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget.Restarts = append(s.budget.Restarts, time.UnixMilli(t))
}

func (s *fakeStore) StateVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// fakeMux is a recording capability.MuxDriver.
type fakeMux struct {
	mu       sync.Mutex
	active   []string
	started  []string
	stopped  []string
	restarts []string
	startErr error
	stopErr  error
}

func (m *fakeMux) Start(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return domain.ExecutionOutcome{}, m.startErr
	}
	m.started = append(m.started, project)
	m.active = append(m.active, project)
	return domain.ExecutionOutcome{OK: true, Msg: "started"}, nil
}

func (m *fakeMux) Stop(ctx context.Context, project string) (domain.ExecutionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return domain.ExecutionOutcome{}, m.stopErr
	}
	m.stopped = append(m.stopped, project)
	var remaining []string
	for _, p := range m.active {
		if p != project {
			remaining = append(remaining, p)
		}
	}
	m.active = remaining
	return domain.ExecutionOutcome{OK: true, Msg: "stopped"}, nil
}

func (m *fakeMux) Restart(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, project)
	return domain.ExecutionOutcome{OK: true, Msg: "restarted"}, nil
}

func (m *fakeMux) SendInput(ctx context.Context, project, text string) error { return nil }

func (m *fakeMux) ListActive(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.active...), nil
}

func (m *fakeMux) CapturePane(ctx context.Context, project string, maxBytes int) (string, error) {
	return "", nil
}

// recordingNotifier is a NotificationSender fake.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	Message string
	Tier    int
}

func (n *recordingNotifier) Notify(message string, tier int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Message: message, Tier: tier})
}

func (n *recordingNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

// fakeResource is a constant-value capability.ResourceProbe.
type fakeResource struct {
	freeMB int
	err    error
}

func (f *fakeResource) FreeMemoryMB(ctx context.Context) (int, error) {
	return f.freeMB, f.err
}

// fakeProcessManager is a capability.ProcessManager fake keyed by label.
type fakeProcessManager struct {
	mu           sync.Mutex
	running      map[string]int32
	kickstarted  []string
	kickstartErr error
}

func newFakeProcessManager() *fakeProcessManager {
	return &fakeProcessManager{running: make(map[string]int32)}
}

func (p *fakeProcessManager) Find(ctx context.Context, label string) (int32, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid, ok := p.running[label]
	return pid, ok, nil
}

func (p *fakeProcessManager) Kickstart(ctx context.Context, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kickstartErr != nil {
		return p.kickstartErr
	}
	p.kickstarted = append(p.kickstarted, label)
	p.running[label] = 4242
	return nil
}

// fakeContainerRuntime is a capability.ContainerRuntime fake.
type fakeContainerRuntime struct {
	mu         sync.Mutex
	running    map[string]bool
	restarted  []string
	restartErr error
}

func newFakeContainerRuntime() *fakeContainerRuntime {
	return &fakeContainerRuntime{running: make(map[string]bool)}
}

func (c *fakeContainerRuntime) ListRunning(ctx context.Context) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.running))
	for k, v := range c.running {
		out[k] = v
	}
	return out, nil
}

func (c *fakeContainerRuntime) Restart(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restartErr != nil {
		return c.restartErr
	}
	c.restarted = append(c.restarted, name)
	c.running[name] = true
	return nil
}

// fakeGit is a scripted capability.GitIntrospector.
type fakeGit struct {
	progress domain.GitProgress
	err      error
}

func (g *fakeGit) Since(ctx context.Context, dir string, since time.Time) (domain.GitProgress, error) {
	return g.progress, g.err
}

// fakeEvaluationSink records every archived evaluation.
type fakeEvaluationSink struct {
	mu   sync.Mutex
	logs []domain.Evaluation
	err  error
}

func (a *fakeEvaluationSink) Append(e domain.Evaluation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, e)
	return nil
}

// fakeEvaluationFileWriter records the last project-local file write.
type fakeEvaluationFileWriter struct {
	mu      sync.Mutex
	written map[string]domain.Evaluation
}

func (f *fakeEvaluationFileWriter) WriteEvaluationFile(project string, e domain.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = make(map[string]domain.Evaluation)
	}
	f.written[project] = e
	return nil
}

var _ capability.GitIntrospector = (*fakeGit)(nil)
var _ EvaluationSink = (*fakeEvaluationSink)(nil)
var _ EvaluationFileWriter = (*fakeEvaluationFileWriter)(nil)
var _ capability.MuxDriver = (*fakeMux)(nil)
var _ capability.ResourceProbe = (*fakeResource)(nil)
var _ capability.ProcessManager = (*fakeProcessManager)(nil)
var _ capability.ContainerRuntime = (*fakeContainerRuntime)(nil)
var _ NotificationSender = (*recordingNotifier)(nil)
var _ StateStore = (*fakeStore)(nil)
