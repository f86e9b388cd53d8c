package flash

import (
	"fmt"
	"time"
)

// Defaults for a flash run.
const (
	DefaultDevicePath  = "/dev/map/upgrade"
	DefaultBlockSize   = 0x10000
	DefaultSettleDelay = 3 * time.Second

	// MaxBlockSize bounds the single chunk buffer a run allocates.
	MaxBlockSize = 64 << 20
)

// Config describes one flash run. It is not modified by the flasher.
type Config struct {
	SourcePath  string
	DevicePath  string
	BlockSize   int
	Verify      bool
	Sync        bool
	Reboot      bool
	Silent      bool
	SettleDelay time.Duration
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		DevicePath:  DefaultDevicePath,
		BlockSize:   DefaultBlockSize,
		Verify:      true,
		Sync:        true,
		Reboot:      true,
		SettleDelay: DefaultSettleDelay,
	}
}

// Capabilities lists optional features available in this build.
type Capabilities struct {
	Verification bool
}

// Validate checks the configuration against the available capabilities.
// The block size is not checked here; an unusable block size is an
// allocation failure reported by NewWriter.
func (c Config) Validate(caps Capabilities) error {
	if c.SourcePath == "" {
		return fmt.Errorf("image file is required")
	}
	if c.DevicePath == "" {
		return fmt.Errorf("device path cannot be empty")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay must be non-negative")
	}
	if c.Verify && !caps.Verification {
		return ErrVerificationUnsupported
	}
	return nil
}

// Outcome is the exit code of a run.
type Outcome int

const (
	OutcomeClean        Outcome = 0
	OutcomeOpenFailure  Outcome = 1
	OutcomeAllocFailure Outcome = 2
	OutcomeWriteFailure Outcome = 7
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeOpenFailure:
		return "open_failure"
	case OutcomeAllocFailure:
		return "alloc_failure"
	case OutcomeWriteFailure:
		return "write_failure"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// State is the furthest point a run reached.
type State string

const (
	StateInit            State = "init"
	StateSourceOpened    State = "source_opened"
	StateBufferAllocated State = "buffer_allocated"
	StateSourceVerified  State = "source_verified"
	StateDestOpened      State = "dest_opened"
	StateWritten         State = "written"
	StateSynced          State = "synced"
	StateDestVerified    State = "dest_verified"
	StateDecided         State = "decided"
	StateTerminal        State = "terminal"
)

// Check is the result of one digest verification.
type Check int

const (
	CheckSkipped Check = iota
	CheckPassed
	CheckFailed
)

func (c Check) String() string {
	switch c {
	case CheckPassed:
		return "ok"
	case CheckFailed:
		return "FAIL"
	}
	return "skipped"
}

// Result is the accumulated state of a run.
type Result struct {
	Outcome Outcome
	State   State

	// Err is the first error that set Outcome.
	Err error

	Copy        CopyResult
	SourceCheck Check
	DestCheck   Check

	// ImageSize and Digest come from the source header when it could be read.
	ImageSize uint32
	Digest    string

	RebootAttempted bool
	RebootErr       error
}

// ExitCode is the process exit code for the run.
func (r *Result) ExitCode() int {
	return int(r.Outcome)
}

// fail records err as the run's error if none is set yet and raises the
// outcome to code.
func (r *Result) fail(code Outcome, err error) *Result {
	if r.Outcome == OutcomeClean {
		r.Outcome = code
	}
	if r.Err == nil {
		r.Err = err
	}
	return r
}
