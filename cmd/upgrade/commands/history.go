package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/zrouter/upgrade/internal/config"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/errors"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List flash runs and staged images",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure ledger directory exists
	if err := ensureDirectories(cfg.LedgerPath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	flashes, err := repo.ListFlashes(ctx)
	if err != nil {
		return errors.Wrap(err, "list flashes failed")
	}
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list images failed")
	}

	if len(flashes) == 0 {
		fmt.Fprintln(out, "No flashes found")
	} else {
		fmt.Fprintf(out, "%-20s %-30s %-10s %-10s %-4s %-32s\n", "WHEN", "IMAGE", "SIZE", "STATUS", "EXIT", "MD5")
		fmt.Fprintln(out, "------------------------------------------------------------------------------------------------------------------")
		for _, f := range flashes {
			fmt.Fprintf(out, "%-20s %-30s %-10s %-10s %-4d %-32s\n",
				f.CreatedAt,
				f.ImagePath,
				humanize.IBytes(uint64(f.ImageSize)),
				f.Status,
				f.Outcome,
				orDash(f.Digest))
		}
	}

	fmt.Fprintln(out)

	if len(images) == 0 {
		fmt.Fprintln(out, "No staged images found")
		return nil
	}

	fmt.Fprintf(out, "%-40s %-10s %-10s %-32s\n", "IMAGE", "SIZE", "STATUS", "MD5")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------------------")
	for _, img := range images {
		fmt.Fprintf(out, "%-40s %-10s %-10s %-32s\n",
			img.Path,
			humanize.IBytes(uint64(img.ImageSize)),
			img.Status,
			orDash(img.Digest))
	}

	return nil
}
