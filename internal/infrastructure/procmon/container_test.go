package procmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// requireDocker skips the test unless a docker daemon is actually reachable;
// these are integration tests against a real daemon socket, not something
// this package can fake without reimplementing the client.
func requireDocker(t *testing.T) *DockerRuntime {
	t.Helper()
	rt, err := NewDockerRuntime(zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := rt.ListRunning(ctx); err != nil {
		t.Skip("no reachable docker daemon: " + err.Error())
	}
	return rt
}

func TestDockerRuntime_ListRunning_NoErrorWhenDaemonReachable(t *testing.T) {
	rt := requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	running, err := rt.ListRunning(ctx)
	require.NoError(t, err)
	_ = running // contents depend on the host; only absence of error is asserted
}

func TestDockerRuntime_Restart_UnknownContainerErrors(t *testing.T) {
	rt := requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := rt.Restart(ctx, "definitely-not-a-real-container-xyz123")
	require.Error(t, err)
}
