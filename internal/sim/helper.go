package sim

import (
	"context"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/Iron-Ham/appharness/internal/process"
)

// SpawnHelper stands in for the container's launch script. It starts the
// application and returns a helper whose Stop leaves the application
// running, like the script exiting does. It is a process.SpawnFunc.
func (c *Container) SpawnHelper(ctx context.Context, cmd process.Command, _ *logging.Logger) (process.Helper, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewLaunchError("spawn canceled", err).WithBinary(cmd.Path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("spawn"); err != nil {
		return nil, err
	}
	if c.launchErr != nil {
		return nil, errors.NewLaunchError("simulated spawn failure", c.launchErr).
			WithBinary(cmd.Path).
			WithArgs(cmd.Args...)
	}
	c.helpers = append(c.helpers, cmd)
	c.setRunningLocked(true)
	c.logger.Debug("helper spawned", "path", cmd.Path, "args", cmd.Args)
	return helper{}, nil
}

// Helpers returns the helper commands spawned so far.
func (c *Container) Helpers() []process.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]process.Command, len(c.helpers))
	copy(out, c.helpers)
	return out
}

type helper struct{}

func (helper) Stop() error { return nil }
