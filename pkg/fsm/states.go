package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/superfly/fsm"
	"github.com/zrouter/upgrade/pkg/db"
	"github.com/zrouter/upgrade/pkg/errors"
	"github.com/zrouter/upgrade/pkg/image"
	"github.com/zrouter/upgrade/pkg/security"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	validator  *security.Validator
	fs         afero.Fs
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	repo *db.Repository,
	validator *security.Validator,
	fs afero.Fs,
	maxRetries int,
) *Machine {
	return &Machine{
		repo:       repo,
		validator:  validator,
		fs:         fs,
		maxRetries: maxRetries,
	}
}

func (m *Machine) retriesExceeded(ctx context.Context, path string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "path", path, "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	return nil
}

// fail marks the image failed and aborts the workflow
func (m *Machine) fail(resp *StageResponse, err error) error {
	resp.Status = db.StatusFailed
	resp.ErrorMessage = err.Error()
	if resp.ImageID != 0 {
		m.repo.UpdateImageStatus(resp.ImageID, db.StatusFailed, err.Error())
	}
	return fsm.Abort(err)
}

// handleCheckLedger finds or creates the ledger record for the image
func (m *Machine) handleCheckLedger(ctx context.Context, req *fsm.Request[StageRequest, StageResponse]) (*fsm.Response[StageResponse], error) {
	slog.Info("fsm_state_check_ledger", "path", req.Msg.Path)

	if err := m.retriesExceeded(ctx, req.Msg.Path); err != nil {
		return nil, err
	}

	img, err := m.repo.GetImageByPath(req.Msg.Path)
	if err != nil {
		slog.Error("ledger_check_failed", "path", req.Msg.Path, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "database error"))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &StageResponse{}
	}

	if img != nil {
		// The file may have changed since it was last staged, so always re-check.
		slog.Info("image_restaging", "path", req.Msg.Path, "image_id", img.ID, "previous_status", img.Status)
		if err := m.repo.UpdateImageStatus(img.ID, db.StatusPending, ""); err != nil {
			return nil, errors.Wrap(err, "failed to reset image status")
		}
	} else {
		img = &db.Image{
			Path:   req.Msg.Path,
			Status: db.StatusPending,
		}
		if err := m.repo.CreateImage(img); err != nil {
			slog.Error("create_image_failed", "path", req.Msg.Path, "error", err)
			return nil, errors.Wrap(err, "failed to create image record")
		}
		slog.Info("image_created", "path", req.Msg.Path, "image_id", img.ID)
	}

	resp.ImageID = img.ID
	resp.Status = db.StatusPending
	return fsm.NewResponse(resp), nil
}

// handleInspect decodes and bounds-checks the header
func (m *Machine) handleInspect(ctx context.Context, req *fsm.Request[StageRequest, StageResponse]) (*fsm.Response[StageResponse], error) {
	slog.Info("fsm_state_inspect", "path", req.Msg.Path)

	if err := m.retriesExceeded(ctx, req.Msg.Path); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if err := m.validator.ValidateBlockSize(req.Msg.BlockSize); err != nil {
		return nil, m.fail(resp, err)
	}

	fi, err := m.fs.Stat(req.Msg.Path)
	if err != nil {
		slog.Error("image_stat_failed", "path", req.Msg.Path, "error", err)
		return nil, m.fail(resp, errors.Wrap(err, "failed to stat image"))
	}
	if err := m.validator.ValidateSource(fi); err != nil {
		return nil, m.fail(resp, err)
	}
	resp.SourceSize = fi.Size()

	f, err := m.fs.Open(req.Msg.Path)
	if err != nil {
		slog.Error("image_open_failed", "path", req.Msg.Path, "error", err)
		return nil, m.fail(resp, errors.Wrap(err, "failed to open image"))
	}
	defer f.Close()

	h, err := image.ReadHeader(f)
	if err != nil {
		return nil, m.fail(resp, err)
	}
	if err := m.validator.ValidateHeader(h, fi.Size()); err != nil {
		return nil, m.fail(resp, err)
	}

	resp.ImageSize = int64(h.Size)
	resp.Digest = h.Digest.String()
	resp.HeaderDevice = h.DeviceName()
	if err := m.validator.ValidateDevice(h, req.Msg.DevicePath); err != nil {
		// Warn only: the recorded device is informational.
		resp.DeviceWarning = err.Error()
	}

	last, err := m.repo.LastFlashForDigest(ctx, resp.Digest)
	if err != nil {
		slog.Warn("flash_history_lookup_failed", "digest", resp.Digest, "error", err)
	} else if last != nil {
		resp.FlashedBefore = true
		resp.LastOutcome = last.Outcome
		slog.Info("image_flashed_before", "digest", resp.Digest, "flash_id", last.ID, "outcome", last.Outcome)
	}

	img := &db.Image{
		ID:           resp.ImageID,
		Path:         req.Msg.Path,
		Digest:       resp.Digest,
		HeaderDevice: resp.HeaderDevice,
		ImageSize:    resp.ImageSize,
		Status:       db.StatusVerifying,
	}
	if err := m.repo.UpdateImage(img); err != nil {
		slog.Error("image_update_failed", "image_id", img.ID, "error", err)
		return nil, errors.Wrap(err, "failed to update image")
	}
	resp.Status = db.StatusVerifying

	slog.Info("inspect_complete", "path", req.Msg.Path, "size", h.Size, "device", resp.HeaderDevice)
	return fsm.NewResponse(resp), nil
}

// handleVerify checks the payload digest
func (m *Machine) handleVerify(ctx context.Context, req *fsm.Request[StageRequest, StageResponse]) (*fsm.Response[StageResponse], error) {
	slog.Info("fsm_state_verify", "path", req.Msg.Path)

	if err := m.retriesExceeded(ctx, req.Msg.Path); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	f, err := m.fs.Open(req.Msg.Path)
	if err != nil {
		slog.Error("image_open_failed", "path", req.Msg.Path, "error", err)
		return nil, m.fail(resp, errors.Wrap(err, "failed to open image"))
	}
	defer f.Close()

	v, err := image.Verify(f, req.Msg.BlockSize)
	if err != nil {
		return nil, m.fail(resp, errors.Wrap(err, "verification failed"))
	}
	if !v.OK {
		slog.Error("image_verification_failed", "path", req.Msg.Path, "expected", v.Header.Digest.String(), "computed", v.Computed.String())
		return nil, m.fail(resp, fmt.Errorf("digest mismatch: expected %s, computed %s", v.Header.Digest, v.Computed))
	}

	slog.Info("image_verified", "path", req.Msg.Path, "digest", v.Computed.String())
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the image as staged
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[StageRequest, StageResponse]) (*fsm.Response[StageResponse], error) {
	slog.Info("fsm_state_complete", "path", req.Msg.Path)

	if err := m.retriesExceeded(ctx, req.Msg.Path); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &StageResponse{}
	}

	if err := m.repo.UpdateImageStatus(resp.ImageID, db.StatusReady, resp.DeviceWarning); err != nil {
		slog.Error("status_update_failed", "image_id", resp.ImageID, "error", err)
		return nil, errors.Wrap(err, "failed to update status")
	}
	resp.Status = db.StatusReady

	slog.Info("fsm_complete", "path", req.Msg.Path, "status", db.StatusReady)
	return fsm.NewResponse(resp), nil
}
