//go:build linux

package platform

import (
	"context"
	"testing"
)

func TestLinuxAdapter_DebugFlagWaived(t *testing.T) {
	a, err := NewAdapter()
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	if _, ok := a.(*LinuxAdapter); !ok {
		t.Fatalf("expected *LinuxAdapter, got %T", a)
	}
	for i := 0; i < 2; i++ {
		if err := a.EnsureDebugFlag(context.Background()); err != nil {
			t.Errorf("EnsureDebugFlag must not fail on linux: %v", err)
		}
	}
}
