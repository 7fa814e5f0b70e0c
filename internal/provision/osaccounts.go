package provision

import (
	"context"
	"fmt"
	"os/exec"
)

// ExecAccounts drives usermod with typed arguments. Paths and names are
// passed as separate argv entries, never interpolated into a shell string.
type ExecAccounts struct{}

func (ExecAccounts) MoveHome(ctx context.Context, name, newHome string) error {
	return runUsermod(ctx, "-m", "-d", newHome, name)
}

func (ExecAccounts) SetShell(ctx context.Context, name, shell string) error {
	return runUsermod(ctx, "-s", shell, name)
}

func runUsermod(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "usermod", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("usermod: %w: %s", err, out)
	}
	return nil
}

// NoopAccounts is used when the hub does not manage host accounts (container
// deployments where the record is authoritative on its own).
type NoopAccounts struct{}

func (NoopAccounts) MoveHome(ctx context.Context, name, newHome string) error { return nil }
func (NoopAccounts) SetShell(ctx context.Context, name, shell string) error   { return nil }
