package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zrouter/upgrade/internal/config"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/errors"
)

var (
	forgetAll     bool
	forgetImage   string
	forgetMissing bool
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove staged images from the ledger",
	Long: `Remove staged image records from the ledger. Flash history is kept.
  --all              Forget all staged images
  --image <path>     Forget one staged image
  --missing          Forget staged images whose file no longer exists`,
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
	forgetCmd.Flags().BoolVar(&forgetAll, "all", false, "Forget all staged images")
	forgetCmd.Flags().StringVar(&forgetImage, "image", "", "Forget a specific image by path")
	forgetCmd.Flags().BoolVar(&forgetMissing, "missing", false, "Forget images whose file is gone")
}

func runForget(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.LedgerPath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	switch {
	case forgetAll:
		return forgetImages(out, repo, func(*db.Image) bool { return true })
	case forgetImage != "":
		return forgetOne(out, repo, forgetImage)
	case forgetMissing:
		return forgetImages(out, repo, func(img *db.Image) bool {
			_, err := appFs.Stat(img.Path)
			return os.IsNotExist(err)
		})
	default:
		return fmt.Errorf("must specify --all, --image, or --missing")
	}
}

func forgetImages(out io.Writer, repo *db.Repository, match func(*db.Image) bool) error {
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	removed := 0
	for _, img := range images {
		if !match(img) {
			continue
		}
		if err := repo.DeleteImage(img.ID); err != nil {
			fmt.Fprintf(out, "Failed to forget %s: %v\n", img.Path, err)
			continue
		}
		fmt.Fprintf(out, "Forgot %s\n", img.Path)
		removed++
	}

	fmt.Fprintf(out, "Removed %d staged images\n", removed)
	return nil
}

func forgetOne(out io.Writer, repo *db.Repository, path string) error {
	img, err := repo.GetImageByPath(path)
	if err != nil {
		return errors.Wrap(err, "ledger lookup failed")
	}
	if img == nil {
		return fmt.Errorf("image %s is not staged", path)
	}
	if err := repo.DeleteImage(img.ID); err != nil {
		return errors.Wrap(err, "delete failed")
	}
	fmt.Fprintf(out, "Forgot %s\n", path)
	return nil
}
