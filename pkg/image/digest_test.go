package image

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"
)

// buildImage returns a sealed image with the given payload.
func buildImage(t *testing.T, payload []byte) (*Header, []byte) {
	t.Helper()
	h, err := NewHeader(0x40000, "/dev/map/upgrade")
	if err != nil {
		t.Fatalf("NewHeader failed: %v", err)
	}
	if err := Seal(h, bytes.NewReader(payload), 0x10000); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var buf bytes.Buffer
	h.Encode(&buf)
	buf.Write(payload)
	return h, buf.Bytes()
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestComputeDigest_MatchesReference(t *testing.T) {
	payload := pattern(1000)
	h, _ := NewHeader(0x1234, "/dev/flash")
	h.Size = uint32(len(payload))

	ref := md5.New()
	binary.Write(ref, binary.LittleEndian, uint32(0x1234))
	ref.Write(h.Device[:])
	ref.Write(payload)

	got, n, err := ComputeDigest(bytes.NewReader(payload), h, 64)
	if err != nil {
		t.Fatalf("ComputeDigest failed: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("expected %d bytes consumed, got %d", len(payload), n)
	}
	if !bytes.Equal(got[:], ref.Sum(nil)) {
		t.Errorf("digest mismatch: got %s", got)
	}
}

func TestComputeDigest_ChunkingInvariance(t *testing.T) {
	payload := pattern(3*4096 + 17)
	h, _ := NewHeader(0, "/dev/x")
	h.Size = uint32(len(payload))

	want, _, err := ComputeDigest(bytes.NewReader(payload), h, len(payload))
	if err != nil {
		t.Fatalf("ComputeDigest failed: %v", err)
	}

	readers := map[string]func() io.Reader{
		"plain":    func() io.Reader { return bytes.NewReader(payload) },
		"one_byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(payload)) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(payload)) },
		"data_eof": func() io.Reader { return iotest.DataErrReader(bytes.NewReader(payload)) },
	}

	for name, mk := range readers {
		for _, bs := range []int{1, 7, 512, 4096, 0x10000} {
			got, n, err := ComputeDigest(mk(), h, bs)
			if err != nil {
				t.Fatalf("%s/%d: ComputeDigest failed: %v", name, bs, err)
			}
			if got != want || n != int64(len(payload)) {
				t.Errorf("%s/%d: digest %s (%d bytes), want %s", name, bs, got, n, want)
			}
		}
	}
}

func TestComputeDigest_IgnoresTrailingBytes(t *testing.T) {
	payload := pattern(100)
	h, _ := NewHeader(0, "/dev/x")
	h.Size = uint32(len(payload))

	want, _, _ := ComputeDigest(bytes.NewReader(payload), h, 16)

	padded := append(append([]byte{}, payload...), bytes.Repeat([]byte{0xff}, 300)...)
	r := bytes.NewReader(padded)
	got, n, err := ComputeDigest(r, h, 16)
	if err != nil {
		t.Fatalf("ComputeDigest failed: %v", err)
	}
	if got != want || n != 100 {
		t.Errorf("trailing bytes changed digest: %s (%d bytes), want %s", got, n, want)
	}
	if r.Len() != 300 {
		t.Errorf("expected 300 unread bytes, got %d", r.Len())
	}
}

func TestComputeDigest_ReadError(t *testing.T) {
	h := &Header{Size: 10}
	r := iotest.ErrReader(io.ErrClosedPipe)
	if _, _, err := ComputeDigest(r, h, 4); err == nil {
		t.Error("expected read error to be returned")
	}
	if _, _, err := ComputeDigest(bytes.NewReader(nil), h, 0); err == nil {
		t.Error("expected error for zero block size")
	}
}

func TestVerify(t *testing.T) {
	_, img := buildImage(t, pattern(2*0x10000+10))

	v, err := Verify(bytes.NewReader(img), 0x10000)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !v.OK || v.Truncated() {
		t.Errorf("expected valid image, got %+v", v)
	}

	// Corrupt a single payload byte.
	bad := append([]byte{}, img...)
	bad[HeaderSize+5] ^= 0x01
	v, err = Verify(bytes.NewReader(bad), 0x10000)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if v.OK {
		t.Error("expected corrupted payload to fail verification")
	}

	// Corrupting the declared size field is also detected.
	bad = append([]byte{}, img...)
	bad[4+DeviceLen] ^= 0x01
	v, _ = Verify(bytes.NewReader(bad), 0x10000)
	if v.OK {
		t.Error("expected altered size to fail verification")
	}
}

func TestVerify_TruncatedPayload(t *testing.T) {
	h, img := buildImage(t, pattern(5000))
	short := img[:HeaderSize+4000]

	for i := 0; i < 2; i++ {
		v, err := Verify(bytes.NewReader(short), 1024)
		if err != nil {
			t.Fatalf("Verify on truncated payload returned error: %v", err)
		}
		if v.OK {
			t.Error("truncated payload must fail verification")
		}
		if !v.Truncated() || v.PayloadRead != 4000 {
			t.Errorf("expected 4000 of %d bytes read, got %d", h.Size, v.PayloadRead)
		}
	}
}

func TestVerify_OverstatedSize(t *testing.T) {
	payload := pattern(4000)
	h, err := NewHeader(0, "/dev/map/upgrade")
	if err != nil {
		t.Fatalf("NewHeader failed: %v", err)
	}
	if err := Seal(h, bytes.NewReader(payload), 1024); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	// The digest still covers exactly the bytes present.
	h.Size = 8000

	var buf bytes.Buffer
	h.Encode(&buf)
	buf.Write(payload)

	for _, bs := range []int{1, 1024, 0x10000} {
		v, err := Verify(bytes.NewReader(buf.Bytes()), bs)
		if err != nil {
			t.Fatalf("blocksize %d: Verify returned error: %v", bs, err)
		}
		if v.Computed != h.Digest {
			t.Errorf("blocksize %d: expected the digest itself to match", bs)
		}
		if v.OK {
			t.Errorf("blocksize %d: payload shorter than declared size verified", bs)
		}
		if !v.Truncated() || v.PayloadRead != 4000 {
			t.Errorf("blocksize %d: expected 4000 of 8000 bytes read, got %d", bs, v.PayloadRead)
		}
	}
}

func TestVerify_TruncatedHeader(t *testing.T) {
	if _, err := Verify(bytes.NewReader([]byte{1, 2, 3}), 512); err != ErrTruncatedHeader {
		t.Errorf("expected ErrTruncatedHeader, got %v", err)
	}
}
