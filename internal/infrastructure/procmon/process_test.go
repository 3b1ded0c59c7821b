package procmon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessFinder_FindsCurrentTestBinary(t *testing.T) {
	p := NewProcessFinder(nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The test binary's own command line always contains its own path;
	// use that as a needle guaranteed to be running right now.
	self, err := os.Executable()
	require.NoError(t, err)

	_, found, err := p.Find(ctx, self)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProcessFinder_NoMatchReturnsFalse(t *testing.T) {
	p := NewProcessFinder(nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, found, err := p.Find(ctx, "definitely-not-a-running-process-label-xyz123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProcessFinder_Kickstart_MissingLabelIsConfigError(t *testing.T) {
	p := NewProcessFinder(map[string]string{}, zap.NewNop())
	err := p.Kickstart(context.Background(), "unknown-service")
	assert.Error(t, err)
}

func TestProcessFinder_Kickstart_RunsConfiguredCommand(t *testing.T) {
	dir := t.TempDir()
	marker := dir + "/touched"
	p := NewProcessFinder(map[string]string{"demo": "touch " + marker}, zap.NewNop())

	require.NoError(t, p.Kickstart(context.Background(), "demo"))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHostResourceProbe_FreeMemoryMB_ReturnsPositive(t *testing.T) {
	probe := NewHostResourceProbe()
	mb, err := probe.FreeMemoryMB(context.Background())
	require.NoError(t, err)
	assert.Greater(t, mb, 0)
}
