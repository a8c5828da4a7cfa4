package process

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// DefaultStopTimeout is how long Stop waits after asking a process group to
// terminate before killing it.
const DefaultStopTimeout = 5 * time.Second

// Command describes an external process.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is added to the harness's own environment.
	Env []string
	// LogFile receives stdout and stderr when set.
	LogFile string
}

// Process is a spawned external process running in its own process group.
type Process struct {
	cmd         *exec.Cmd
	logger      *logging.Logger
	stopTimeout time.Duration

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// Spawn starts cmd in a new process group. Failures are *errors.LaunchError.
func Spawn(ctx context.Context, cmd Command, logger *logging.Logger) (*Process, error) {
	if cmd.Path == "" {
		return nil, errors.NewValidationError("command path is required").WithField("path")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewLaunchError("launch canceled", err).WithBinary(cmd.Path).WithArgs(cmd.Args...)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var logFile *os.File
	if cmd.LogFile != "" {
		f, err := os.OpenFile(cmd.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.NewLaunchError("failed to open process log", err).WithBinary(cmd.Path)
		}
		logFile = f
		c.Stdout = f
		c.Stderr = f
	}

	setProcessGroup(c)
	if err := c.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, errors.NewLaunchError("failed to start process", err).WithBinary(cmd.Path).WithArgs(cmd.Args...)
	}

	p := &Process{
		cmd:         c,
		logger:      logger.WithComponent("process").With("pid", c.Process.Pid, "binary", cmd.Path),
		stopTimeout: DefaultStopTimeout,
		done:        make(chan struct{}),
	}
	go func() {
		p.waitErr = c.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(p.done)
	}()

	p.logger.Info("process started", "args", cmd.Args)
	return p, nil
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the process group, escalating to a kill after the stop
// timeout. It is safe to call more than once and after the process exited.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
	})
	return p.stopErr
}

func (p *Process) stop() error {
	if p.Exited() {
		return nil
	}

	if err := terminateProcessGroup(p.cmd); err != nil {
		p.logger.Warn("terminate failed", "error", err)
	}
	select {
	case <-p.done:
		p.logger.Info("process stopped")
		return nil
	case <-time.After(p.stopTimeout):
	}

	p.logger.Warn("process did not exit, killing", "timeout", p.stopTimeout.String())
	if err := killProcessGroup(p.cmd); err != nil {
		return errors.Wrapf(err, "kill process %d", p.Pid())
	}
	<-p.done
	return nil
}
