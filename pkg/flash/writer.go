package flash

import (
	"io"
	"log/slog"
)

// CopyResult summarizes one pass of the writer.
type CopyResult struct {
	// Blocks is the number of blocks the writer attempted.
	Blocks int
	// BlocksWritten counts blocks written in full.
	BlocksWritten int
	// Failures counts blocks that were not written in full.
	Failures  int
	BytesRead int64
	// FirstErr is the first *WriteError or *ReadError seen.
	FirstErr error
}

// Writer copies a source to a device in fixed-size blocks. The last block is
// zero padded, like dd conv=sync, so the device always receives whole blocks.
type Writer struct {
	buf []byte

	// Progress is called before each block is written.
	Progress func(block int)
	// WriteFailed is called for every block that is not written in full.
	WriteFailed func(err *WriteError)
}

// NewWriter allocates the single chunk buffer used for a copy.
func NewWriter(blockSize int) (*Writer, error) {
	if blockSize <= 0 || blockSize > MaxBlockSize {
		return nil, &AllocError{BlockSize: blockSize}
	}
	return &Writer{buf: make([]byte, blockSize)}, nil
}

// BlockSize returns the size of every write the writer issues.
func (w *Writer) BlockSize() int {
	return len(w.buf)
}

// Release drops the chunk buffer. The writer cannot be used afterwards.
func (w *Writer) Release() {
	w.buf = nil
}

// Copy rewinds src and writes all of it to dst. A failed block write is
// recorded and the copy moves on to the next block; only a source read
// error ends the pass early.
func (w *Writer) Copy(src io.ReadSeeker, dst io.Writer) CopyResult {
	var res CopyResult

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		res.FirstErr = &ReadError{Block: 0, Err: err}
		return res
	}

	clear(w.buf)
	for block := 0; ; block++ {
		n, rerr := io.ReadFull(src, w.buf)
		if n == 0 {
			if rerr != nil && rerr != io.EOF {
				w.readFailed(&res, block, rerr)
			}
			break
		}
		res.BytesRead += int64(n)

		if w.Progress != nil {
			w.Progress(block)
		}

		// The tail past n is still zero from the last clear.
		res.Blocks++
		wn, werr := dst.Write(w.buf)
		if werr == nil && wn != len(w.buf) {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			we := &WriteError{Block: block, Written: wn, Err: werr}
			slog.Error("flash_block_write_failed", "block", block, "written", wn, "error", werr)
			res.Failures++
			if res.FirstErr == nil {
				res.FirstErr = we
			}
			if w.WriteFailed != nil {
				w.WriteFailed(we)
			}
		} else {
			res.BlocksWritten++
		}

		clear(w.buf)

		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			w.readFailed(&res, block, rerr)
			break
		}
	}

	slog.Info("flash_copy_complete",
		"blocks", res.Blocks,
		"blocks_written", res.BlocksWritten,
		"failures", res.Failures,
		"bytes_read", res.BytesRead)
	return res
}

func (w *Writer) readFailed(res *CopyResult, block int, err error) {
	slog.Error("flash_source_read_failed", "block", block, "error", err)
	if res.FirstErr == nil {
		res.FirstErr = &ReadError{Block: block, Err: err}
	}
}

// Copy writes src to dst in blockSize units using a fresh Writer.
func Copy(src io.ReadSeeker, dst io.Writer, blockSize int) (CopyResult, error) {
	w, err := NewWriter(blockSize)
	if err != nil {
		return CopyResult{}, err
	}
	defer w.Release()
	return w.Copy(src, dst), nil
}
