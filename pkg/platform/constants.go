package platform

const (
	// DebugFlagsTunable controls GEOM safety checks on FreeBSD.
	DebugFlagsTunable = "kern.geom.debugflags"
	// DebugFlagsAllowWrite lets writes reach providers that are open elsewhere.
	DebugFlagsAllowWrite uint32 = 0x10
)
