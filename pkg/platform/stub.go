//go:build !linux && !freebsd

package platform

import (
	"context"
	"fmt"
	"runtime"
)

// StubAdapter is used on platforms the flasher does not support.
type StubAdapter struct{}

// NewAdapter creates a stub adapter; every operation fails.
func NewAdapter() (Adapter, error) {
	return &StubAdapter{}, nil
}

func (a *StubAdapter) EnsureDebugFlag(ctx context.Context) error {
	return fmt.Errorf("%s: %w on %s", DebugFlagsTunable, ErrTunableMissing, runtime.GOOS)
}

func (a *StubAdapter) Sync() error {
	return fmt.Errorf("sync not supported on %s", runtime.GOOS)
}

func (a *StubAdapter) Reboot(ctx context.Context, withSync bool) error {
	return fmt.Errorf("reboot not supported on %s", runtime.GOOS)
}
