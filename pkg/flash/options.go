package flash

import (
	"io"
	"time"

	"github.com/spf13/afero"
)

// Option configures a Flasher.
type Option func(*Flasher)

// WithFs sets the filesystem used to open the image and the device.
func WithFs(fs afero.Fs) Option {
	return func(f *Flasher) {
		f.fs = fs
	}
}

// WithStatus sets where operator status lines are printed. It should be
// unbuffered so progress appears as blocks are written.
func WithStatus(w io.Writer) Option {
	return func(f *Flasher) {
		f.status = w
	}
}

// WithSleep replaces the function used for the settle delay.
func WithSleep(sleep func(time.Duration)) Option {
	return func(f *Flasher) {
		f.sleep = sleep
	}
}

// WithLedger records every run in l.
func WithLedger(l Ledger) Option {
	return func(f *Flasher) {
		f.ledger = l
	}
}

// WithCapabilities overrides the optional features the flasher reports.
func WithCapabilities(caps Capabilities) Option {
	return func(f *Flasher) {
		f.caps = caps
	}
}
