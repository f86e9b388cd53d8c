package commands

import (
	"os"
	"path/filepath"

	"github.com/zrouter/upgrade/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(ledgerPath, fsmDBPath string) error {
	// Create ledger directory
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create ledger directory")
	}

	// Create FSM database directory (only needed for stage command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}
