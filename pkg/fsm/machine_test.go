package fsm

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/superfly/fsm"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/image"
	"github.com/zrouter/upgrade/pkg/security"
)

func writeImage(t *testing.T, fs afero.Fs, path string, payload []byte, corrupt bool) {
	t.Helper()
	h, err := image.NewHeader(0, "/dev/map/upgrade")
	if err != nil {
		t.Fatalf("NewHeader failed: %v", err)
	}
	if err := image.Seal(h, bytes.NewReader(payload), 512); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if corrupt {
		h.Digest[0] ^= 0xff
	}

	var buf bytes.Buffer
	h.Encode(&buf)
	buf.Write(payload)
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write image failed: %v", err)
	}
}

func runStage(t *testing.T, repo *db.Repository, fs afero.Fs, path string) error {
	t.Helper()
	ctx := context.Background()

	manager, err := fsm.New(fsm.Config{DBPath: t.TempDir()})
	if err != nil {
		t.Fatalf("FSM manager failed: %v", err)
	}
	defer manager.Shutdown(5 * time.Second)

	validator := security.NewValidator(1<<20, 512, 1<<20)
	machine := NewMachine(repo, validator, fs, 3)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		t.Fatalf("FSM register failed: %v", err)
	}

	req := &StageRequest{Path: path, DevicePath: "/dev/map/upgrade", BlockSize: 512}
	version, err := start(ctx, path, fsm.NewRequest(req, &StageResponse{}))
	if err != nil {
		t.Fatalf("FSM start failed: %v", err)
	}
	return manager.Wait(ctx, version)
}

func TestStage_ValidImage(t *testing.T) {
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("repository failed: %v", err)
	}
	defer repo.Close()

	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/images/good.img", bytes.Repeat([]byte{0x5a}, 3000), false)

	if err := runStage(t, repo, fs, "/images/good.img"); err != nil {
		t.Fatalf("staging failed: %v", err)
	}

	img, err := repo.GetImageByPath("/images/good.img")
	if err != nil || img == nil {
		t.Fatalf("image not recorded: %+v, %v", img, err)
	}
	if img.Status != db.StatusReady {
		t.Errorf("expected status %s, got %s (%s)", db.StatusReady, img.Status, img.ErrorMessage)
	}
	if img.ImageSize != 3000 || img.HeaderDevice != "/dev/map/upgrade" || img.Digest == "" {
		t.Errorf("header details not recorded: %+v", img)
	}
}

func TestStage_CorruptImage(t *testing.T) {
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("repository failed: %v", err)
	}
	defer repo.Close()

	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/images/bad.img", bytes.Repeat([]byte{0x5a}, 3000), true)

	runStage(t, repo, fs, "/images/bad.img")

	img, err := repo.GetImageByPath("/images/bad.img")
	if err != nil || img == nil {
		t.Fatalf("image not recorded: %+v, %v", img, err)
	}
	if img.Status != db.StatusFailed {
		t.Errorf("expected status %s, got %s", db.StatusFailed, img.Status)
	}
	if img.ErrorMessage == "" {
		t.Error("expected failure reason to be recorded")
	}
}
