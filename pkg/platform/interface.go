// Package platform holds the few operating system calls the flasher needs:
// the GEOM debug flag that allows writing to a mounted provider, a global
// sync, and the reboot primitive.
package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
)

// Adapter is the process-wide platform surface used by a flash run.
type Adapter interface {
	// EnsureDebugFlag makes sure raw writes to the target device are allowed.
	// It is called once before any device I/O.
	EnsureDebugFlag(ctx context.Context) error

	// Sync flushes all file system buffers to stable storage.
	Sync() error

	// Reboot restarts the system. withSync selects whether buffers are
	// flushed first. On success it does not return.
	Reboot(ctx context.Context, withSync bool) error
}

// Tunables reads and writes integer kernel tunables.
type Tunables interface {
	Get(name string) (uint32, error)
	Set(name string, value uint32) error
}

// ErrTunableMissing is returned when the kernel does not know a tunable.
var ErrTunableMissing = stderrors.New("tunable missing")

// EnsureFlag sets bit in the named tunable unless it is already set.
// Calling it again after success leaves the tunable unchanged.
func EnsureFlag(t Tunables, name string, bit uint32) error {
	val, err := t.Get(name)
	if err != nil {
		slog.Error("tunable_read_failed", "tunable", name, "error", err)
		return fmt.Errorf("%s: %w", name, ErrTunableMissing)
	}

	if val&bit != 0 {
		slog.Info("tunable_already_set", "tunable", name, "value", val, "bit", bit)
		return nil
	}

	val |= bit
	slog.Info("tunable_set", "tunable", name, "value", val)
	if err := t.Set(name, val); err != nil {
		slog.Error("tunable_write_failed", "tunable", name, "value", val, "error", err)
		return fmt.Errorf("failed to set %s=%d: %w", name, val, err)
	}
	return nil
}
