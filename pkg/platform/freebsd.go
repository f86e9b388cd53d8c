//go:build freebsd

package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/zrouter/upgrade/pkg/errors"
	"golang.org/x/sys/unix"
)

// sysctlTunables reads tunables with sysctl(3) and writes them with sysctl(8).
type sysctlTunables struct {
	ctx context.Context
}

func (s sysctlTunables) Get(name string) (uint32, error) {
	return unix.SysctlUint32(name)
}

func (s sysctlTunables) Set(name string, value uint32) error {
	cmd := exec.CommandContext(s.ctx, "sysctl", fmt.Sprintf("%s=%d", name, value))
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "sysctl: %s", out)
	}
	return nil
}

// FreeBSDAdapter implements Adapter on FreeBSD.
type FreeBSDAdapter struct{}

// NewAdapter returns the adapter for the running platform.
func NewAdapter() (Adapter, error) {
	slog.Info("platform_init", "platform", "freebsd")
	return &FreeBSDAdapter{}, nil
}

func (a *FreeBSDAdapter) EnsureDebugFlag(ctx context.Context) error {
	return EnsureFlag(sysctlTunables{ctx: ctx}, DebugFlagsTunable, DebugFlagsAllowWrite)
}

func (a *FreeBSDAdapter) Sync() error {
	return unix.Sync()
}

// Reboot uses reboot(8) in quick mode, which calls reboot(2) directly;
// -n skips the buffer flush.
func (a *FreeBSDAdapter) Reboot(ctx context.Context, withSync bool) error {
	args := []string{"-q"}
	if !withSync {
		args = append(args, "-n")
	}
	slog.Info("platform_reboot", "args", args)

	cmd := exec.CommandContext(ctx, "reboot", args...)
	if err := cmd.Run(); err != nil {
		slog.Error("platform_reboot_failed", "error", err)
		return errors.Wrap(err, "reboot failed")
	}
	return nil
}
