//go:build linux

package platform

import (
	"context"
	"log/slog"

	"github.com/zrouter/upgrade/pkg/errors"
	"golang.org/x/sys/unix"
)

// LinuxAdapter implements Adapter on Linux. Linux has no GEOM layer and no
// kern.geom.debugflags tunable, so the debug flag precondition is waived:
// EnsureDebugFlag always succeeds and never fails a run.
type LinuxAdapter struct{}

// NewAdapter returns the adapter for the running platform.
func NewAdapter() (Adapter, error) {
	slog.Info("platform_init", "platform", "linux")
	return &LinuxAdapter{}, nil
}

// EnsureDebugFlag only logs; raw writes need no tunable on Linux.
func (a *LinuxAdapter) EnsureDebugFlag(ctx context.Context) error {
	slog.Info("tunable_not_applicable", "tunable", DebugFlagsTunable, "platform", "linux")
	return nil
}

func (a *LinuxAdapter) Sync() error {
	unix.Sync()
	return nil
}

// Reboot calls reboot(2) directly. The kernel does not flush buffers on
// LINUX_REBOOT_CMD_RESTART, so withSync syncs first.
func (a *LinuxAdapter) Reboot(ctx context.Context, withSync bool) error {
	if withSync {
		unix.Sync()
	}
	slog.Info("platform_reboot", "sync", withSync)

	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		slog.Error("platform_reboot_failed", "error", err)
		return errors.Wrap(err, "reboot failed")
	}
	return nil
}
