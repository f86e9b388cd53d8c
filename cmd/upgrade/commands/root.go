package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zrouter/upgrade/internal/config"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/errors"
	"github.com/zrouter/upgrade/pkg/flash"
	"github.com/zrouter/upgrade/pkg/platform"
)

// LogLevel is the level of the default logger. It is set from --log-level
// before any command runs.
var LogLevel = new(slog.LevelVar)

var (
	appFs       afero.Fs = afero.NewOsFs()
	newPlatform          = platform.NewAdapter
)

var rootCmd = &cobra.Command{
	Use:   "upgrade -f <image>",
	Short: "Write a firmware image to the boot device and reboot into it",
	Long: `Writes a firmware image to the raw boot device in fixed-size blocks,
checks the md5 digest before and after the write, and reboots into the new
image only when every step succeeded.`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	RunE:              runFlash,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

func init() {
	LogLevel.Set(slog.LevelWarn)

	rootCmd.PersistentFlags().String("ledger-path", "/var/db/upgrade/ledger.db", "SQLite ledger path")
	rootCmd.PersistentFlags().String("fsm-db-path", "/var/db/upgrade/fsm", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("settle-delay", flash.DefaultSettleDelay, "Delay before reboot when the device is not verified")
	rootCmd.PersistentFlags().StringP("blocksize", "s", fmt.Sprintf("%#x", flash.DefaultBlockSize), "Block size (decimal, 0x hex or 0 octal)")

	rootCmd.Flags().StringP("file", "f", "", "Firmware image to write")
	rootCmd.Flags().StringP("device", "d", flash.DefaultDevicePath, "Device to write to")
	rootCmd.Flags().BoolP("quiet", "q", false, "Only print errors")
	rootCmd.Flags().BoolP("skip-reboot", "R", false, "Do not reboot after writing")
	rootCmd.Flags().BoolP("skip-sync", "S", false, "Do not sync buffers after writing")
	if flash.DefaultCapabilities.Verification {
		rootCmd.Flags().BoolP("skip-verify", "V", false, "Do not verify the md5 sum")
	}

	for _, name := range []string{"ledger-path", "fsm-db-path", "log-level", "settle-delay", "blocksize"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(f.Name, f)
	})
}

func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	LogLevel.Set(level)
	return nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	caps := flash.DefaultCapabilities
	fc := cfg.FlashConfig(caps)
	if err := fc.Validate(caps); err != nil {
		cmd.Usage()
		return errors.WithExitCode(err, int(flash.OutcomeOpenFailure))
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	adapter, err := newPlatform()
	if err != nil {
		return errors.Wrap(err, "platform init failed")
	}
	if err := adapter.EnsureDebugFlag(ctx); err != nil {
		if errors.Is(err, platform.ErrTunableMissing) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s sysctl missing\n", platform.DebugFlagsTunable)
		}
		return errors.Wrap(err, "platform setup failed")
	}

	opts := []flash.Option{
		flash.WithFs(appFs),
		flash.WithStatus(cmd.OutOrStdout()),
		flash.WithCapabilities(caps),
	}
	if repo := openLedger(cfg.LedgerPath); repo != nil {
		defer repo.Close()
		opts = append(opts, flash.WithLedger(repo))
	}

	flasher := flash.New(adapter, opts...)
	res := flasher.Run(ctx, fc)
	return errors.WithExitCode(res.Err, res.ExitCode())
}

// openLedger opens the ledger for a flash run. A flash must not depend on
// the ledger, so failures only log.
func openLedger(path string) *db.Repository {
	if err := ensureDirectories(path, ""); err != nil {
		slog.Warn("ledger_unavailable", "path", path, "error", err)
		return nil
	}
	repo, err := db.NewRepository(path)
	if err != nil {
		slog.Warn("ledger_unavailable", "path", path, "error", err)
		return nil
	}
	return repo
}
