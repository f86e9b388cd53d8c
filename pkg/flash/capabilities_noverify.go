//go:build noverify

package flash

// DefaultCapabilities for builds without image verification.
var DefaultCapabilities = Capabilities{}
