package executor

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	logrus "github.com/sirupsen/logrus"
)

// Prune force-removes every container carrying SandboxLabel, including ones
// leaked by a crashed worker. It returns the number removed.
func Prune(ctx context.Context, logger *logrus.Logger) (int, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return 0, fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", SandboxLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.WithField("container", shortID(c.ID)).WithError(err).Warn("Failed to remove container")
			continue
		}
		logger.WithFields(logrus.Fields{"container": shortID(c.ID), "image": c.Image, "state": c.State}).Info("Removed sandbox container")
		removed++
	}
	return removed, nil
}
