//go:build !noverify

package flash

// DefaultCapabilities is what the flasher supports unless told otherwise.
var DefaultCapabilities = Capabilities{Verification: true}
