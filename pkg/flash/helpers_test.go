package flash

import (
	"bytes"
	"testing"

	"github.com/zrouter/upgrade/pkg/image"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + i/509 + 1)
	}
	return b
}

// buildImage returns a sealed image totalSize bytes long, header included.
func buildImage(t *testing.T, blockSize, totalSize int) []byte {
	t.Helper()
	return buildImageWithSize(t, blockSize, totalSize, -1)
}

// buildImageWithSize is buildImage with the header's declared size forced to
// declared when declared >= 0.
func buildImageWithSize(t *testing.T, blockSize, totalSize, declared int) []byte {
	t.Helper()
	payload := pattern(totalSize - image.HeaderSize)

	h, err := image.NewHeader(0x20000, "/dev/map/upgrade")
	if err != nil {
		t.Fatalf("NewHeader failed: %v", err)
	}
	if err := image.Seal(h, bytes.NewReader(payload), blockSize); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if declared >= 0 {
		h.Size = uint32(declared)
	}

	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	buf.Write(payload)
	return buf.Bytes()
}
