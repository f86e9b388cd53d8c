package db

// Schema defines the SQLite ledger schema.
// flashes holds one row per flash run; images holds images that passed
// (or failed) staging, keyed by path.
const Schema = `
CREATE TABLE IF NOT EXISTS flashes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    image_path TEXT NOT NULL,
    device_path TEXT NOT NULL,
    image_size INTEGER NOT NULL DEFAULT 0,
    digest TEXT NOT NULL DEFAULT '',
    block_size INTEGER NOT NULL,
    blocks_written INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    outcome INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'init',
    status TEXT NOT NULL CHECK(status IN ('writing', 'rebooting', 'complete', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_flashes_created_at ON flashes(created_at);
CREATE INDEX IF NOT EXISTS idx_flashes_digest ON flashes(digest);

CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    digest TEXT NOT NULL DEFAULT '',
    header_device TEXT NOT NULL DEFAULT '',
    image_size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('pending', 'verifying', 'ready', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_images_path ON images(path);
CREATE INDEX IF NOT EXISTS idx_images_status ON images(status);
`

// Flash status constants
const (
	FlashStatusWriting   = "writing"
	FlashStatusRebooting = "rebooting"
	FlashStatusComplete  = "complete"
	FlashStatusFailed    = "failed"
)

// Image status constants
const (
	StatusPending   = "pending"
	StatusVerifying = "verifying"
	StatusReady     = "ready"
	StatusFailed    = "failed"
)

// Flash represents one flash run
type Flash struct {
	ID            int64
	ImagePath     string
	DevicePath    string
	ImageSize     int64
	Digest        string
	BlockSize     int
	BlocksWritten int
	Failures      int
	Outcome       int
	State         string
	Status        string
	ErrorMessage  string
	CreatedAt     string
	UpdatedAt     string
}

// Image represents a staged firmware image
type Image struct {
	ID           int64
	Path         string
	Digest       string
	HeaderDevice string
	ImageSize    int64
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
