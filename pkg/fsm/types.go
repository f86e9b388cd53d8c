package fsm

// StageRequest is the FSM input
type StageRequest struct {
	Path       string
	DevicePath string
	BlockSize  int
}

// StageResponse is the FSM output (accumulated across transitions)
type StageResponse struct {
	// From CheckLedger
	ImageID int64

	// From Inspect
	SourceSize    int64
	ImageSize     int64
	Digest        string
	HeaderDevice  string
	DeviceWarning string
	LastOutcome   int
	FlashedBefore bool

	// From Verify/Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateCheckLedger = "check_ledger"
	StateInspect     = "inspect"
	StateVerify      = "verify"
	StateComplete    = "complete"
	StateFailed      = "failed"
)
