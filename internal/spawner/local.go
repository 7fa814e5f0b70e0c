// Package spawner provides the default spawner: one local OS process per
// session. Deployments with container or batch backends supply their own
// lifecycle.Spawner instead.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"spawnhub/internal/lifecycle"
	"spawnhub/internal/model"
)

// LocalProcess runs a fixed command per session, exporting the owning account
// and label through the environment.
type LocalProcess struct {
	mu      sync.Mutex
	command []string
	account model.Account
	label   string

	cmd      *exec.Cmd
	exited   chan struct{}
	exitCode int
}

// NewLocalFactory returns a factory building LocalProcess spawners for the
// given command line.
func NewLocalFactory(command []string) lifecycle.SpawnerFactory {
	return func(account model.Account, label string) lifecycle.Spawner {
		return &LocalProcess{command: command, account: account, label: label}
	}
}

func (p *LocalProcess) Start(ctx context.Context, options map[string]any) (<-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.command) == 0 {
		return nil, errors.New("no spawner command configured")
	}
	if p.cmd != nil {
		return nil, errors.New("already started")
	}

	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Env = append(os.Environ(),
		"SPAWNHUB_USER="+p.account.Name,
		"SPAWNHUB_SERVER_NAME="+p.label,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.command[0], err)
	}

	p.cmd = cmd
	p.exited = make(chan struct{})
	go p.wait()

	// a local process is ready as soon as it is running
	ready := make(chan error, 1)
	ready <- nil
	return ready, nil
}

func (p *LocalProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitCode = 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
	}
	close(p.exited)
	p.mu.Unlock()
}

func (p *LocalProcess) Stop(ctx context.Context) (<-chan error, error) {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil, errors.New("not started")
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return nil, fmt.Errorf("signal: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		<-exited
		done <- nil
	}()
	return done, nil
}

func (p *LocalProcess) Poll(ctx context.Context) (*int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		code := 0
		return &code, nil
	}
	select {
	case <-p.exited:
		code := p.exitCode
		return &code, nil
	default:
		return nil, nil
	}
}
