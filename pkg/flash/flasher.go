// Package flash writes a firmware image to a raw device and decides whether
// the system may reboot into it.
//
// A run opens the image, optionally checks its digest (advisory only), copies
// it to the device in fixed-size zero padded blocks, syncs, checks the digest
// read back from the device, and reboots only when every step succeeded.
// Write errors never stop the copy: the whole image is always attempted so the
// operator sees the full failure picture before deciding how to recover.
package flash

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/image"
	"github.com/zrouter/upgrade/pkg/platform"
)

// Ledger stores a record of each run.
type Ledger interface {
	CreateFlash(ctx context.Context, f *db.Flash) error
	UpdateFlash(ctx context.Context, f *db.Flash) error
}

// Flasher holds the dependencies of a flash run.
type Flasher struct {
	platform platform.Adapter
	fs       afero.Fs
	status   io.Writer
	sleep    func(time.Duration)
	ledger   Ledger
	caps     Capabilities
}

// New creates a Flasher that uses p for sync and reboot.
func New(p platform.Adapter, opts ...Option) *Flasher {
	f := &Flasher{
		platform: p,
		fs:       afero.NewOsFs(),
		status:   os.Stdout,
		sleep:    time.Sleep,
		caps:     DefaultCapabilities,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run performs one flash. It always returns a Result; Result.ExitCode is the
// process exit code. Every stream opened by the run is closed before Run
// returns. If the run reboots the system successfully, Run does not return.
//
// The copy loop does not observe ctx; once started it runs to the end of the
// image.
func (f *Flasher) Run(ctx context.Context, cfg Config) *Result {
	res := &Result{State: StateInit}
	out := status{w: f.status, silent: cfg.Silent}

	slog.Info("flash_start",
		"image", cfg.SourcePath,
		"device", cfg.DevicePath,
		"block_size", cfg.BlockSize,
		"verify", cfg.Verify,
		"sync", cfg.Sync,
		"reboot", cfg.Reboot)

	rec := f.beginRecord(ctx, cfg)
	defer f.finishRecord(ctx, rec, res)

	if err := cfg.Validate(f.caps); err != nil {
		slog.Error("flash_config_invalid", "error", err)
		return res.fail(OutcomeOpenFailure, err)
	}

	out.Printf("Use file %s\n", cfg.SourcePath)
	out.Printf("Will write to %s\n", cfg.DevicePath)
	out.Printf("Use blocksize %#x (%s)\n", cfg.BlockSize, humanize.IBytes(uint64(max(cfg.BlockSize, 0))))

	src, err := f.fs.Open(cfg.SourcePath)
	if err != nil {
		out.Always("Error opening file %s\n", cfg.SourcePath)
		slog.Error("flash_source_open_failed", "image", cfg.SourcePath, "error", err)
		return res.fail(OutcomeOpenFailure, &OpenError{Target: TargetSource, Path: cfg.SourcePath, Err: err})
	}
	defer src.Close()
	res.State = StateSourceOpened

	w, err := NewWriter(cfg.BlockSize)
	if err != nil {
		out.Always("Error allocating blocksize=%#x\n", cfg.BlockSize)
		slog.Error("flash_buffer_alloc_failed", "block_size", cfg.BlockSize)
		return res.fail(OutcomeAllocFailure, err)
	}
	defer w.Release()
	res.State = StateBufferAllocated

	if cfg.Verify {
		res.SourceCheck, _ = f.check(src, cfg.BlockSize, TargetSource, res)
		out.Printf("Image check - %s\n", res.SourceCheck)
		if res.SourceCheck == CheckFailed {
			// Advisory: the image is written regardless.
			slog.Warn("flash_source_check_failed_continuing", "image", cfg.SourcePath)
		}
		res.State = StateSourceVerified
	} else if f.ledger != nil {
		f.describe(src, res)
	}

	dst, err := f.fs.OpenFile(cfg.DevicePath, os.O_RDWR, 0)
	if err != nil {
		out.Always("Error opening device %s\n", cfg.DevicePath)
		slog.Error("flash_device_open_failed", "device", cfg.DevicePath, "error", err)
		return res.fail(OutcomeOpenFailure, &OpenError{Target: TargetDevice, Path: cfg.DevicePath, Err: err})
	}
	defer dst.Close()
	res.State = StateDestOpened

	w.Progress = out.Block
	w.WriteFailed = func(*WriteError) {
		out.Always("Error when writing to %s, continue trying to make it done\n", cfg.DevicePath)
	}
	res.Copy = w.Copy(src, dst)
	out.Printf("\n")
	if res.Copy.FirstErr != nil {
		res.fail(OutcomeWriteFailure, res.Copy.FirstErr)
	}
	res.State = StateWritten
	slog.Info("flash_written",
		"device", cfg.DevicePath,
		"blocks", res.Copy.Blocks,
		"failures", res.Copy.Failures,
		"size", humanize.IBytes(uint64(res.Copy.Blocks)*uint64(w.BlockSize())))

	if cfg.Sync {
		out.Printf("Sync buffers\n")
		if err := f.platform.Sync(); err != nil {
			slog.Error("flash_sync_failed", "error", err)
		}
		res.State = StateSynced
	}

	if cfg.Verify {
		out.Printf("Verify md5 sum\n")
		var verr error
		res.DestCheck, verr = f.checkDevice(cfg, res)
		if res.DestCheck == CheckFailed {
			out.Always("Verification fail\n")
			res.fail(OutcomeWriteFailure, verr)
		}
		res.State = StateDestVerified
	} else {
		out.Printf("Sleep %s...\n", settleText(cfg.SettleDelay))
		f.sleep(cfg.SettleDelay)
	}

	res.State = StateDecided
	if cfg.Reboot && res.Outcome == OutcomeClean {
		// Only reboot after a clean run; otherwise the operator gets a chance
		// to fix the device while the running system is still alive.
		out.Always("Write done, now rebooting\n")
		if cfg.Sync {
			out.Printf("reboot now ...\n")
		} else {
			out.Printf("reboot w/o sync now ...\n")
		}
		res.RebootAttempted = true
		f.finishRecord(ctx, rec, res)

		if err := f.platform.Reboot(ctx, cfg.Sync); err != nil {
			slog.Error("flash_reboot_failed", "error", err)
			res.RebootErr = err
		}
	} else if cfg.Reboot {
		slog.Warn("flash_reboot_suppressed", "outcome", res.Outcome.String())
	}

	res.State = StateTerminal
	slog.Info("flash_complete", "outcome", res.Outcome.String(), "exit_code", res.ExitCode())
	return res
}

// check verifies the image at the start of r. For the source it also records
// the header's size and digest in res.
func (f *Flasher) check(r io.ReadSeeker, blockSize int, target Target, res *Result) (Check, error) {
	v, err := image.Verify(r, blockSize)
	if err != nil {
		slog.Warn("flash_verification_error", "target", target, "error", err)
		return CheckFailed, &VerificationError{Target: target, Err: err}
	}

	if target == TargetSource {
		res.ImageSize = v.Header.Size
		res.Digest = v.Header.Digest.String()
	}

	if !v.OK {
		return CheckFailed, &VerificationError{
			Target:   target,
			Expected: v.Header.Digest.String(),
			Computed: v.Computed.String(),
		}
	}
	return CheckPassed, nil
}

// checkDevice reopens the device read-only and verifies what was written.
func (f *Flasher) checkDevice(cfg Config, res *Result) (Check, error) {
	dev, err := f.fs.Open(cfg.DevicePath)
	if err != nil {
		slog.Error("flash_device_reopen_failed", "device", cfg.DevicePath, "error", err)
		return CheckFailed, &VerificationError{Target: TargetDevice, Err: err}
	}
	defer dev.Close()

	return f.check(dev, cfg.BlockSize, TargetDevice, res)
}

// describe reads the source header for the ledger when no verification runs.
func (f *Flasher) describe(r io.ReadSeeker, res *Result) {
	h, err := image.ReadHeader(r)
	if err != nil {
		return
	}
	res.ImageSize = h.Size
	res.Digest = h.Digest.String()
}

func (f *Flasher) beginRecord(ctx context.Context, cfg Config) *db.Flash {
	if f.ledger == nil {
		return nil
	}

	rec := &db.Flash{
		ImagePath:  cfg.SourcePath,
		DevicePath: cfg.DevicePath,
		BlockSize:  cfg.BlockSize,
		Status:     db.FlashStatusWriting,
	}
	if err := f.ledger.CreateFlash(ctx, rec); err != nil {
		slog.Warn("flash_ledger_create_failed", "error", err)
		return nil
	}
	return rec
}

// finishRecord stores the current result. Ledger errors never change the outcome.
func (f *Flasher) finishRecord(ctx context.Context, rec *db.Flash, res *Result) {
	if f.ledger == nil || rec == nil {
		return
	}

	rec.ImageSize = int64(res.ImageSize)
	rec.Digest = res.Digest
	rec.BlocksWritten = res.Copy.BlocksWritten
	rec.Failures = res.Copy.Failures
	rec.Outcome = res.ExitCode()
	rec.State = string(res.State)
	rec.ErrorMessage = ""
	if res.Err != nil {
		rec.ErrorMessage = res.Err.Error()
	}

	switch {
	case res.Outcome != OutcomeClean:
		rec.Status = db.FlashStatusFailed
	case res.RebootErr != nil:
		rec.Status = db.FlashStatusComplete
		rec.ErrorMessage = res.RebootErr.Error()
	case res.RebootAttempted:
		rec.Status = db.FlashStatusRebooting
	default:
		rec.Status = db.FlashStatusComplete
	}

	if err := f.ledger.UpdateFlash(ctx, rec); err != nil {
		slog.Warn("flash_ledger_update_failed", "flash_id", rec.ID, "error", err)
	}
}

// settleText renders the settle delay for the status line. Whole seconds
// keep the classic "3 seconds" wording.
func settleText(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}
