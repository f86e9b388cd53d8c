package flash

import (
	stderrors "errors"
	"fmt"
)

// ErrVerificationUnsupported is returned when verification is requested but
// the build cannot verify images.
var ErrVerificationUnsupported = stderrors.New("image verification not supported")

// Target names the stream an error refers to.
type Target string

const (
	TargetSource Target = "source"
	TargetDevice Target = "device"
)

// OpenError indicates the source image or destination device could not be opened.
type OpenError struct {
	Target Target
	Path   string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("error opening %s %s: %v", e.Target, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// AllocError indicates the chunk buffer could not be allocated.
type AllocError struct {
	BlockSize int
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("error allocating blocksize=%#x", e.BlockSize)
}

// WriteError indicates a block was not written in full.
type WriteError struct {
	Block   int
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write of block %d failed after %d bytes: %v", e.Block, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError indicates the source could not be read.
type ReadError struct {
	Block int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read of block %d failed: %v", e.Block, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// VerificationError indicates a digest check failed or could not run.
type VerificationError struct {
	Target   Target
	Expected string
	Computed string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%s verification failed: expected %s, computed %s", e.Target, e.Expected, e.Computed)
}

func (e *VerificationError) Unwrap() error { return e.Err }
