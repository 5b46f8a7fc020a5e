package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command is a process-backed work item: a shell command executed in a child
// OS process. Unlike Func it implements Terminator, so the runner's process
// isolation mode can kill it outright.
type Command struct {
	name    string
	command string
	workdir string

	mu   sync.Mutex
	proc *os.Process
}

// NewCommand builds a work item that runs command through the shell.
func NewCommand(name, command string) *Command {
	return &Command{name: name, command: command}
}

// WithWorkdir sets the working directory the command runs in.
func (c *Command) WithWorkdir(dir string) *Command {
	c.workdir = dir
	return c
}

func (c *Command) Name() string { return c.name }

// Invoke starts the child process and waits for it. The trimmed stdout is the
// task result; a non-zero exit yields an error carrying stderr.
func (c *Command) Invoke(ctx context.Context) (any, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.command)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command %q: %w", c.name, err)
	}

	c.mu.Lock()
	c.proc = cmd.Process
	c.mu.Unlock()

	err := cmd.Wait()

	c.mu.Lock()
	c.proc = nil
	c.mu.Unlock()

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("command %q: %w", c.name, err)
		}
		return nil, fmt.Errorf("command %q: %w: %s", c.name, err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Terminate kills the child process if it is still running. Safe to call at
// any point in the command's lifecycle.
func (c *Command) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return nil
	}
	return c.proc.Kill()
}
