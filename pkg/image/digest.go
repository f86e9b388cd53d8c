package image

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/zrouter/upgrade/pkg/errors"
)

// Digest is the 16 byte image digest.
type Digest [DigestLen]byte

// String returns the digest in lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ComputeDigest hashes the header's offset and device fields followed by up to
// h.Size payload bytes read from r in chunks of at most blockSize bytes.
// r must be positioned at the first payload byte. It returns the digest and
// the number of payload bytes consumed, which is less than h.Size when r ends
// early; bytes past h.Size are never read.
func ComputeDigest(r io.Reader, h *Header, blockSize int) (Digest, int64, error) {
	var d Digest
	if blockSize <= 0 {
		return d, 0, errors.New("block size must be positive")
	}

	ctx := md5.New()
	var off [4]byte
	ByteOrder.PutUint32(off[:], h.Offset)
	ctx.Write(off[:])
	ctx.Write(h.Device[:])

	buf := make([]byte, blockSize)
	remaining := int64(h.Size)
	var consumed int64

	for remaining > 0 {
		want := int64(blockSize)
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		ctx.Write(buf[:n])
		consumed += int64(n)
		remaining -= int64(n)

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return d, consumed, errors.Wrap(err, "failed to read image payload")
		}
	}

	copy(d[:], ctx.Sum(nil))
	return d, consumed, nil
}

// Verification is the result of checking an image against its header digest.
type Verification struct {
	Header      *Header
	Computed    Digest
	PayloadRead int64
	OK          bool
}

// Truncated reports whether fewer payload bytes were available than declared.
func (v *Verification) Truncated() bool {
	return v.PayloadRead < int64(v.Header.Size)
}

// Verify reads the header from the start of r and checks the payload that
// follows it against the recorded digest. A payload shorter than the declared
// size never verifies, even when its digest matches. It behaves the same for
// regular files and block devices.
func Verify(r io.ReadSeeker, blockSize int) (*Verification, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	computed, read, err := ComputeDigest(r, h, blockSize)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Header:      h,
		Computed:    computed,
		PayloadRead: read,
	}
	v.OK = computed == h.Digest && !v.Truncated()

	switch {
	case v.Truncated():
		slog.Warn("image_payload_truncated",
			"declared_size", h.Size,
			"payload_read", read)
	case !v.OK:
		slog.Warn("image_digest_mismatch",
			"expected", h.Digest.String(),
			"computed", computed.String(),
			"declared_size", h.Size,
			"payload_read", read)
	default:
		slog.Info("image_digest_ok", "digest", computed.String(), "size", h.Size)
	}

	return v, nil
}

// Seal reads the whole payload, then sets h.Size and h.Digest to describe it.
func Seal(h *Header, payload io.Reader, blockSize int) error {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, payload)
	if err != nil {
		return errors.Wrap(err, "failed to read payload")
	}
	if n > int64(^uint32(0)) {
		return errors.New("payload larger than 4 GiB")
	}

	h.Size = uint32(n)
	d, _, err := ComputeDigest(&buf, h, blockSize)
	if err != nil {
		return err
	}
	h.Digest = d
	return nil
}
