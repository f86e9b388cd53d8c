package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/zrouter/upgrade/internal/config"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/errors"
	"github.com/zrouter/upgrade/pkg/flash"
	appfsm "github.com/zrouter/upgrade/pkg/fsm"
	"github.com/zrouter/upgrade/pkg/security"
)

var stageCmd = &cobra.Command{
	Use:   "stage <image>",
	Short: "Check an image and record it in the ledger without writing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStage,
}

func init() {
	rootCmd.AddCommand(stageCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Wrap(err, "invalid image path")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	blockSize, err := config.ParseBlockSize(cfg.BlockSize)
	if err != nil {
		return err
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.LedgerPath, cfg.FSMDBPath); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	validator := security.NewValidator(cfg.MaxImageSize, cfg.MinBlockSize, flash.MaxBlockSize)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(repo, validator, appFs, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.StageRequest{
		Path:       path,
		DevicePath: cfg.Device,
		BlockSize:  blockSize,
	}
	resp := &appfsm.StageResponse{}

	runID := fmt.Sprintf("%s-%d", filepath.Base(path), time.Now().UnixNano())
	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm started", "version", version)

	waitErr := manager.Wait(ctx, version)

	img, err := repo.GetImageByPath(path)
	if err != nil {
		return errors.Wrap(err, "ledger lookup failed")
	}
	if img != nil {
		fmt.Fprintf(out, "%-8s %s\n", "IMAGE", img.Path)
		fmt.Fprintf(out, "%-8s %s\n", "STATUS", img.Status)
		fmt.Fprintf(out, "%-8s %s\n", "MD5", orDash(img.Digest))
		fmt.Fprintf(out, "%-8s %s\n", "DEVICE", orDash(img.HeaderDevice))
		if img.ErrorMessage != "" {
			fmt.Fprintf(out, "%-8s %s\n", "NOTE", img.ErrorMessage)
		}
	}

	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}
	if img == nil || img.Status != db.StatusReady {
		return fmt.Errorf("image %s was not staged", path)
	}

	slog.Info("stage completed", "path", path, "digest", img.Digest)
	return nil
}
