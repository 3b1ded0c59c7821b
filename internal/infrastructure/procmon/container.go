package procmon

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// DockerRuntime is a capability.ContainerRuntime backed by the docker/docker
// client talking to the local daemon socket.
type DockerRuntime struct {
	cli    *client.Client
	logger *zap.Logger
}

func NewDockerRuntime(logger *zap.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "create docker client", err)
	}
	return &DockerRuntime{cli: cli, logger: logger.With(zap.String("component", "procmon-docker"))}, nil
}

// ListRunning reports, for every running container, whether each of its
// names (stripped of the leading '/' docker prefixes) is present.
func (d *DockerRuntime) ListRunning(ctx context.Context) (map[string]bool, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDownstream, "list containers", err)
	}
	running := make(map[string]bool, len(containers)*2)
	for _, c := range containers {
		for _, name := range c.Names {
			running[strings.TrimPrefix(name, "/")] = true
		}
	}
	return running, nil
}

// Restart restarts the named container, giving it a generous grace period
// to shut down cleanly before the daemon kills it.
func (d *DockerRuntime) Restart(ctx context.Context, name string) error {
	if err := d.cli.ContainerRestart(ctx, name, container.StopOptions{}); err != nil {
		return apperrors.Wrap(apperrors.CodeDownstream, "restart container "+name, err)
	}
	d.logger.Info("restarted container", zap.String("name", name))
	return nil
}
