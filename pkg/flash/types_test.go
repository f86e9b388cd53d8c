package flash

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.SourcePath = "/images/upgrade.img"

	tests := []struct {
		name    string
		mutate  func(*Config)
		caps    Capabilities
		wantErr error
		fails   bool
	}{
		{name: "defaults", mutate: func(*Config) {}, caps: Capabilities{Verification: true}},
		{name: "no source", mutate: func(c *Config) { c.SourcePath = "" }, caps: Capabilities{Verification: true}, fails: true},
		{name: "no device", mutate: func(c *Config) { c.DevicePath = "" }, caps: Capabilities{Verification: true}, fails: true},
		{name: "negative settle delay", mutate: func(c *Config) { c.SettleDelay = -time.Second }, caps: Capabilities{Verification: true}, fails: true},
		{name: "verify unsupported", mutate: func(*Config) {}, caps: Capabilities{}, wantErr: ErrVerificationUnsupported, fails: true},
		{name: "no verify without support", mutate: func(c *Config) { c.Verify = false }, caps: Capabilities{}},
		// Block size problems are allocation failures, not config errors.
		{name: "zero blocksize", mutate: func(c *Config) { c.BlockSize = 0 }, caps: Capabilities{Verification: true}},
		{name: "huge blocksize", mutate: func(c *Config) { c.BlockSize = MaxBlockSize + 1 }, caps: Capabilities{Verification: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate(tt.caps)
			if tt.fails && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.fails && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSettleText(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{3 * time.Second, "3 seconds"},
		{0, "0 seconds"},
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		if got := settleText(tt.in); got != tt.want {
			t.Errorf("settleText(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
