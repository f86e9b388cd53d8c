package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/zrouter/upgrade/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides ledger operations for flash runs and staged images
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the ledger at dbPath
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateFlash inserts a new flash run record
func (r *Repository) CreateFlash(ctx context.Context, f *Flash) error {
	slog.Info("database_create_flash", "image_path", f.ImagePath, "device_path", f.DevicePath)

	query := `
		INSERT INTO flashes (image_path, device_path, image_size, digest, block_size,
		                     blocks_written, failures, outcome, state, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if f.State == "" {
		f.State = "init"
	}
	result, err := r.db.ExecContext(ctx, query,
		f.ImagePath, f.DevicePath, f.ImageSize, f.Digest, f.BlockSize,
		f.BlocksWritten, f.Failures, f.Outcome, f.State, f.Status, f.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "image_path", f.ImagePath, "error", err)
		return errors.Wrap(err, "failed to insert flash")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "image_path", f.ImagePath, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	f.ID = id

	slog.Info("database_flash_created", "flash_id", f.ID, "status", f.Status)
	return nil
}

// UpdateFlash updates an existing flash run record
func (r *Repository) UpdateFlash(ctx context.Context, f *Flash) error {
	slog.Info("database_update_flash", "flash_id", f.ID, "status", f.Status, "outcome", f.Outcome)

	query := `
		UPDATE flashes
		SET image_size = ?, digest = ?, blocks_written = ?, failures = ?, outcome = ?,
		    state = ?, status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		f.ImageSize, f.Digest, f.BlocksWritten, f.Failures, f.Outcome,
		f.State, f.Status, f.ErrorMessage, f.ID)
	if err != nil {
		slog.Error("database_update_failed", "flash_id", f.ID, "error", err)
		return errors.Wrap(err, "failed to update flash")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "flash_id", f.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_flash_not_found_for_update", "flash_id", f.ID)
		return fmt.Errorf("flash not found: id=%d", f.ID)
	}

	slog.Info("database_flash_updated", "flash_id", f.ID, "status", f.Status)
	return nil
}

// ListFlashes retrieves flash runs, newest first
func (r *Repository) ListFlashes(ctx context.Context) ([]*Flash, error) {
	slog.Info("database_list_flashes")

	query := `
		SELECT id, image_path, device_path, image_size, digest, block_size,
		       blocks_written, failures, outcome, state, status, error_message, created_at, updated_at
		FROM flashes ORDER BY id DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list flashes")
	}
	defer rows.Close()

	var flashes []*Flash
	for rows.Next() {
		var f Flash
		var errorMessage sql.NullString

		err := rows.Scan(
			&f.ID, &f.ImagePath, &f.DevicePath, &f.ImageSize, &f.Digest, &f.BlockSize,
			&f.BlocksWritten, &f.Failures, &f.Outcome, &f.State, &f.Status, &errorMessage,
			&f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		f.ErrorMessage = errorMessage.String

		flashes = append(flashes, &f)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "flash_count", len(flashes))
	return flashes, nil
}

// CreateImage inserts a new staged image record
func (r *Repository) CreateImage(img *Image) error {
	slog.Info("database_create_image", "path", img.Path, "status", img.Status)

	query := `
		INSERT INTO images (path, digest, header_device, image_size, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		img.Path, img.Digest, img.HeaderDevice, img.ImageSize, img.Status, img.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "path", img.Path, "error", err)
		return errors.Wrap(err, "failed to insert image")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "path", img.Path, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	img.ID = id

	slog.Info("database_image_created", "path", img.Path, "image_id", img.ID, "status", img.Status)
	return nil
}

// GetImageByPath retrieves a staged image by path; it returns nil, nil when absent
func (r *Repository) GetImageByPath(path string) (*Image, error) {
	slog.Info("database_query_image", "path", path)

	query := `
		SELECT id, path, digest, header_device, image_size, status, error_message, created_at, updated_at
		FROM images WHERE path = ?
	`
	var img Image
	var errorMessage sql.NullString

	err := r.db.QueryRow(query, path).Scan(
		&img.ID, &img.Path, &img.Digest, &img.HeaderDevice, &img.ImageSize,
		&img.Status, &errorMessage, &img.CreatedAt, &img.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Info("database_image_not_found", "path", path)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "path", path, "error", err)
		return nil, errors.Wrap(err, "failed to query image")
	}
	img.ErrorMessage = errorMessage.String

	slog.Info("database_image_found", "path", path, "image_id", img.ID, "status", img.Status)
	return &img, nil
}

// UpdateImage updates an existing staged image record
func (r *Repository) UpdateImage(img *Image) error {
	slog.Info("database_update_image", "image_id", img.ID, "path", img.Path, "status", img.Status)

	query := `
		UPDATE images
		SET digest = ?, header_device = ?, image_size = ?, status = ?, error_message = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		img.Digest, img.HeaderDevice, img.ImageSize, img.Status, img.ErrorMessage, img.ID)
	if err != nil {
		slog.Error("database_update_failed", "image_id", img.ID, "error", err)
		return errors.Wrap(err, "failed to update image")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "image_id", img.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_image_not_found_for_update", "image_id", img.ID)
		return fmt.Errorf("image not found: id=%d", img.ID)
	}

	slog.Info("database_image_updated", "image_id", img.ID, "status", img.Status)
	return nil
}

// UpdateImageStatus updates only the status field
func (r *Repository) UpdateImageStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "image_id", id, "status", status)

	query := `UPDATE images SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := r.db.Exec(query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "image_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	slog.Info("database_status_updated", "image_id", id, "status", status)
	return nil
}

// ListImages retrieves all staged images
func (r *Repository) ListImages() ([]*Image, error) {
	slog.Info("database_list_images")

	query := `
		SELECT id, path, digest, header_device, image_size, status, error_message, created_at, updated_at
		FROM images ORDER BY id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list images")
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		var img Image
		var errorMessage sql.NullString

		err := rows.Scan(
			&img.ID, &img.Path, &img.Digest, &img.HeaderDevice, &img.ImageSize,
			&img.Status, &errorMessage, &img.CreatedAt, &img.UpdatedAt)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		img.ErrorMessage = errorMessage.String

		images = append(images, &img)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "image_count", len(images))
	return images, nil
}

// DeleteImage deletes a staged image by ID
func (r *Repository) DeleteImage(id int64) error {
	slog.Info("database_delete_image", "image_id", id)

	_, err := r.db.Exec(`DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		slog.Error("database_delete_failed", "image_id", id, "error", err)
		return errors.Wrap(err, "failed to delete image")
	}

	slog.Info("database_image_deleted", "image_id", id)
	return nil
}

// LastFlashForDigest returns the most recent flash of an image digest, or nil
func (r *Repository) LastFlashForDigest(ctx context.Context, digest string) (*Flash, error) {
	query := `
		SELECT id, image_path, device_path, image_size, digest, block_size,
		       blocks_written, failures, outcome, state, status, error_message, created_at, updated_at
		FROM flashes WHERE digest = ? ORDER BY id DESC LIMIT 1
	`
	var f Flash
	var errorMessage sql.NullString
	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&f.ID, &f.ImagePath, &f.DevicePath, &f.ImageSize, &f.Digest, &f.BlockSize,
		&f.BlocksWritten, &f.Failures, &f.Outcome, &f.State, &f.Status, &errorMessage,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "digest", digest, "error", err)
		return nil, errors.Wrap(err, "failed to query flash")
	}
	f.ErrorMessage = errorMessage.String
	return &f, nil
}
