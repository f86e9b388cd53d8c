package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/zrouter/upgrade/internal/config"
	"github.com/zrouter/upgrade/pkg/errors"
	"github.com/zrouter/upgrade/pkg/flash"
	"github.com/zrouter/upgrade/pkg/image"
	"github.com/zrouter/upgrade/pkg/security"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Print an image header and check its md5 sum",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	blockSize, err := config.ParseBlockSize(cfg.BlockSize)
	if err != nil {
		return err
	}
	validator := security.NewValidator(cfg.MaxImageSize, cfg.MinBlockSize, flash.MaxBlockSize)
	if err := validator.ValidateBlockSize(blockSize); err != nil {
		return err
	}

	fi, err := appFs.Stat(path)
	if err != nil {
		return errors.Wrap(err, "failed to stat image")
	}
	f, err := appFs.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	h, err := image.ReadHeader(f)
	if err != nil {
		return errors.Wrap(err, "failed to read header")
	}

	fmt.Fprintf(out, "%-10s %s\n", "FILE", path)
	fmt.Fprintf(out, "%-10s %s (%d bytes)\n", "FILE SIZE", humanize.IBytes(uint64(fi.Size())), fi.Size())
	fmt.Fprintf(out, "%-10s %#x\n", "OFFSET", h.Offset)
	fmt.Fprintf(out, "%-10s %s\n", "DEVICE", orDash(h.DeviceName()))
	fmt.Fprintf(out, "%-10s %s (%d bytes)\n", "SIZE", humanize.IBytes(uint64(h.Size)), h.Size)
	fmt.Fprintf(out, "%-10s %s\n", "MD5", h.Digest)

	if err := validator.ValidateHeader(h, fi.Size()); err != nil {
		fmt.Fprintf(out, "%-10s %v\n", "WARNING", err)
	}
	if err := validator.ValidateDevice(h, cfg.Device); err != nil {
		fmt.Fprintf(out, "%-10s %v\n", "WARNING", err)
	}

	v, err := image.Verify(f, blockSize)
	if err != nil {
		return errors.Wrap(err, "verification failed")
	}
	if !v.OK {
		fmt.Fprintf(out, "Image check - %s (computed %s)\n", flash.CheckFailed, v.Computed)
		return errors.WithExitCode(
			fmt.Errorf("digest mismatch: expected %s, computed %s", h.Digest, v.Computed),
			int(flash.OutcomeWriteFailure))
	}
	fmt.Fprintf(out, "Image check - %s\n", flash.CheckPassed)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
