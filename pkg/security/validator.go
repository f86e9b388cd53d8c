// Package security bounds-checks firmware images and flash parameters before
// anything touches a device.
package security

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/zrouter/upgrade/pkg/image"
)

// Validator checks images against configured limits
type Validator struct {
	maxImageSize int64
	minBlockSize int
	maxBlockSize int
}

// NewValidator creates a new image validator
func NewValidator(maxImageSize int64, minBlockSize, maxBlockSize int) *Validator {
	slog.Info("security_validator_init",
		"max_image_size_mb", maxImageSize/1024/1024,
		"min_block_size", minBlockSize,
		"max_block_size", maxBlockSize)

	return &Validator{
		maxImageSize: maxImageSize,
		minBlockSize: minBlockSize,
		maxBlockSize: maxBlockSize,
	}
}

// ValidateBlockSize checks the transfer unit against the configured bounds
func (v *Validator) ValidateBlockSize(blockSize int) error {
	if blockSize < v.minBlockSize || blockSize > v.maxBlockSize {
		slog.Error("security_block_size_rejected",
			"block_size", blockSize,
			"min", v.minBlockSize,
			"max", v.maxBlockSize)
		return fmt.Errorf("security: blocksize %#x outside [%#x, %#x]", blockSize, v.minBlockSize, v.maxBlockSize)
	}
	return nil
}

// ValidateSource checks that the image path names a regular file that can
// hold at least a header
func (v *Validator) ValidateSource(fi fs.FileInfo) error {
	if !fi.Mode().IsRegular() {
		slog.Error("security_source_rejected", "name", fi.Name(), "reason", "not_regular_file", "mode", fi.Mode().String())
		return fmt.Errorf("security: %s is not a regular file", fi.Name())
	}
	if fi.Size() < image.HeaderSize {
		slog.Error("security_source_rejected", "name", fi.Name(), "reason", "too_small", "size", fi.Size())
		return fmt.Errorf("security: %s is %d bytes, smaller than a %d byte header", fi.Name(), fi.Size(), image.HeaderSize)
	}
	if fi.Size() > v.maxImageSize {
		slog.Error("security_source_rejected",
			"name", fi.Name(),
			"reason", "too_large",
			"size_mb", fi.Size()/1024/1024,
			"max_image_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", fi.Size(), v.maxImageSize)
	}
	return nil
}

// ValidateHeader checks that the declared payload fits in the source file
func (v *Validator) ValidateHeader(h *image.Header, sourceSize int64) error {
	available := sourceSize - image.HeaderSize
	if int64(h.Size) > available {
		slog.Error("security_header_rejected",
			"declared_size", h.Size,
			"available", available,
			"reason", "payload_truncated")
		return fmt.Errorf("security: header declares %d payload bytes but only %d follow it", h.Size, available)
	}
	if int64(h.Size) > v.maxImageSize {
		slog.Error("security_header_rejected", "declared_size", h.Size, "reason", "too_large")
		return fmt.Errorf("security: declared size %d exceeds max %d", h.Size, v.maxImageSize)
	}
	return nil
}

// ValidateDevice compares the device recorded in the header with the target
// device. A mismatch usually means the image was built for another board.
func (v *Validator) ValidateDevice(h *image.Header, devicePath string) error {
	recorded := h.DeviceName()
	if recorded == "" {
		slog.Info("security_device_unrecorded", "device", devicePath)
		return nil
	}
	if filepath.Clean(recorded) != filepath.Clean(devicePath) {
		slog.Warn("security_device_mismatch", "recorded", recorded, "device", devicePath)
		return fmt.Errorf("security: image built for %s, target is %s", recorded, devicePath)
	}
	return nil
}
